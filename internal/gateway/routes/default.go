package routes

import "net/http"

// Default returns the gateway's production route table.
func Default() Table {
	return Table{
		Backends: []Backend{
			{Name: BackendUsers, PublicHealth: "/users/health", HealthPath: "/health"},
			{Name: BackendChannels, PublicHealth: "/channels/health", HealthPath: "/health"},
			{Name: BackendMessages, PublicHealth: "/messages/health", HealthPath: "/health"},
			{Name: BackendFiles, PublicHealth: "/files/health", HealthPath: "/healthz"},
			{Name: BackendModeration, PublicHealth: "/moderation/health", HealthPath: "/health"},
			{Name: BackendPresence, PublicHealth: "/presence/health", HealthPath: "/api/v1.0.0/presence/health"},
			{Name: BackendSearch, PublicHealth: "/search/health", HealthPath: "/api/healthz"},
			{Name: BackendChatbotWikipedia, PublicHealth: "/chatbots/wikipedia/health", HealthPath: "/health"},
			{Name: BackendChatbotProgramming, PublicHealth: "/chatbots/programming/health", HealthPath: "/health"},
		},
		Routes: concat(
			usersRoutes(),
			channelsRoutes(),
			messagesRoutes(),
			filesRoutes(),
			moderationRoutes(),
			presenceRoutes(),
			searchRoutes(),
			chatbotRoutes(),
		),
	}
}

func usersRoutes() []Route {
	return []Route{
		{BackendUsers, http.MethodPost, "/users/register", "/v1/users/register", AuthNone, SchemaRegister},
		{BackendUsers, http.MethodPost, "/users/login", "/v1/auth/login", AuthNone, SchemaLogin},
		{BackendUsers, http.MethodPost, "/users/logout", "/v1/auth/logout", AuthRequired, SchemaPassthrough},
		{BackendUsers, http.MethodGet, "/users/me", "/v1/users/me", AuthRequired, SchemaPassthrough},
		{BackendUsers, http.MethodPatch, "/users/me", "/v1/users/me", AuthRequired, SchemaProfile},
		{BackendUsers, http.MethodGet, "/users/{user_id}", "/v1/users/{user_id}", AuthRequired, SchemaPassthrough},
	}
}

func channelsRoutes() []Route {
	return []Route{
		{BackendChannels, http.MethodPost, "/channels", "/v1/channels/", AuthRequired, SchemaPassthrough},
		{BackendChannels, http.MethodGet, "/channels/{channel_id}", "/v1/channels/{channel_id}", AuthRequired, SchemaPassthrough},
		{BackendChannels, http.MethodPut, "/channels/{channel_id}", "/v1/channels/{channel_id}", AuthRequired, SchemaPassthrough},
		{BackendChannels, http.MethodDelete, "/channels/{channel_id}", "/v1/channels/{channel_id}", AuthRequired, SchemaPassthrough},
		{BackendChannels, http.MethodGet, "/channels/{channel_id}/basic", "/v1/channels/{channel_id}/basic", AuthRequired, SchemaPassthrough},
		{BackendChannels, http.MethodPost, "/channels/{channel_id}/reactivate", "/v1/channels/{channel_id}/reactivate", AuthRequired, SchemaPassthrough},
		{BackendChannels, http.MethodPost, "/channels/members", "/v1/members/", AuthRequired, SchemaPassthrough},
		{BackendChannels, http.MethodDelete, "/channels/members", "/v1/members/", AuthRequired, SchemaPassthrough},
		{BackendChannels, http.MethodGet, "/channels/members/user/{user_id}", "/v1/members/{user_id}", AuthRequired, SchemaPassthrough},
		{BackendChannels, http.MethodGet, "/channels/members/owner/{owner_id}", "/v1/members/owner/{owner_id}", AuthRequired, SchemaPassthrough},
		{BackendChannels, http.MethodGet, "/channels/{channel_id}/members", "/v1/members/channel/{channel_id}", AuthRequired, SchemaPassthrough},
		{BackendChannels, http.MethodPost, "/channels/threads", "/v1/threads/", AuthRequired, SchemaPassthrough},
		{BackendChannels, http.MethodDelete, "/channels/threads", "/v1/threads/", AuthRequired, SchemaPassthrough},
		{BackendChannels, http.MethodGet, "/channels/{channel_id}/threads", "/v1/threads/channel/{channel_id}", AuthRequired, SchemaPassthrough},
		{BackendChannels, http.MethodGet, "/channels/threads/{thread_id}", "/v1/threads/{thread_id}", AuthRequired, SchemaPassthrough},
	}
}

func messagesRoutes() []Route {
	return []Route{
		{BackendMessages, http.MethodPost, "/messages/threads/{thread_id}", "/threads/{thread_id}/messages", AuthRequired, SchemaPassthrough},
		{BackendMessages, http.MethodGet, "/messages/threads/{thread_id}", "/threads/{thread_id}/messages", AuthRequired, SchemaPassthrough},
		{BackendMessages, http.MethodPut, "/messages/threads/{thread_id}/messages/{message_id}", "/threads/{thread_id}/messages/{message_id}", AuthRequired, SchemaPassthrough},
		{BackendMessages, http.MethodDelete, "/messages/threads/{thread_id}/messages/{message_id}", "/threads/{thread_id}/messages/{message_id}", AuthRequired, SchemaPassthrough},
	}
}

func filesRoutes() []Route {
	return []Route{
		{BackendFiles, http.MethodPost, "/files", "/v1/files", AuthRequired, SchemaPassthrough},
		{BackendFiles, http.MethodGet, "/files", "/v1/files", AuthRequired, SchemaPassthrough},
		{BackendFiles, http.MethodGet, "/files/{file_id}", "/v1/files/{file_id}", AuthRequired, SchemaPassthrough},
		{BackendFiles, http.MethodDelete, "/files/{file_id}", "/v1/files/{file_id}", AuthRequired, SchemaPassthrough},
		{BackendFiles, http.MethodPost, "/files/{file_id}/download", "/v1/files/{file_id}/presign-download", AuthRequired, SchemaPassthrough},
	}
}

func moderationRoutes() []Route {
	return []Route{
		{BackendModeration, http.MethodPost, "/moderation/check", "/api/v1/moderation/check", AuthOptional, SchemaPassthrough},
		{BackendModeration, http.MethodGet, "/moderation/status/{user_id}/{channel_id}", "/api/v1/moderation/status/{user_id}/{channel_id}", AuthRequired, SchemaPassthrough},
		{BackendModeration, http.MethodGet, "/moderation/blacklist", "/api/v1/blacklist/words", AuthRequired, SchemaPassthrough},
		{BackendModeration, http.MethodPost, "/moderation/blacklist", "/api/v1/blacklist/words", AuthRequired, SchemaPassthrough},
		{BackendModeration, http.MethodDelete, "/moderation/blacklist/{word_id}", "/api/v1/blacklist/words/{word_id}", AuthRequired, SchemaPassthrough},
		{BackendModeration, http.MethodGet, "/moderation/admin/banned-users", "/api/v1/admin/banned-users", AuthRequired, SchemaPassthrough},
	}
}

func presenceRoutes() []Route {
	return []Route{
		{BackendPresence, http.MethodPost, "/presence", "/api/v1.0.0/presence", AuthRequired, SchemaPassthrough},
		{BackendPresence, http.MethodGet, "/presence/stats", "/api/v1.0.0/presence/stats", AuthNone, SchemaPassthrough},
		{BackendPresence, http.MethodGet, "/presence/{user_id}", "/api/v1.0.0/presence/{user_id}", AuthRequired, SchemaPassthrough},
	}
}

func searchRoutes() []Route {
	return []Route{
		{BackendSearch, http.MethodGet, "/search/messages", "/api/message/search_message", AuthOptional, SchemaPassthrough},
		{BackendSearch, http.MethodGet, "/search/files", "/api/files/search_files", AuthOptional, SchemaPassthrough},
		{BackendSearch, http.MethodGet, "/search/channels", "/api/channel/search_channel", AuthOptional, SchemaPassthrough},
		{BackendSearch, http.MethodGet, "/search/threads/id/{thread_id}", "/api/threads/id/{thread_id}", AuthOptional, SchemaPassthrough},
		{BackendSearch, http.MethodGet, "/search/threads/author/{author}", "/api/threads/author/{author}", AuthOptional, SchemaPassthrough},
		{BackendSearch, http.MethodGet, "/search/threads/keyword/{keyword}", "/api/threads/keyword/{keyword}", AuthOptional, SchemaPassthrough},
		{BackendSearch, http.MethodGet, "/search/threads/status/{status}", "/api/threads/status/{status}", AuthOptional, SchemaPassthrough},
		{BackendSearch, http.MethodGet, "/search/threads/daterange", "/api/threads/daterange", AuthOptional, SchemaPassthrough},
	}
}

func chatbotRoutes() []Route {
	return []Route{
		{BackendChatbotWikipedia, http.MethodPost, "/chatbots/wikipedia/query", "/chat-wikipedia", AuthOptional, SchemaChatbot},
		{BackendChatbotProgramming, http.MethodPost, "/chatbots/programming/chat", "/chat", AuthOptional, SchemaChatbot},
		{BackendChatbotProgramming, http.MethodPost, "/chatbots/programming/query", "/chat", AuthOptional, SchemaChatbot},
	}
}

func concat(groups ...[]Route) []Route {
	var out []Route
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
