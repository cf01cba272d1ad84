package handler

import (
	"encoding/json"
	"strings"

	"github.com/asaskevich/govalidator"

	dErrors "parley/pkg/domain-errors"
)

// RegisterRequest is the gateway's view of a registration. It checks shape
// only; the identity service owns the password and length rules.
type RegisterRequest struct {
	Email    string  `json:"email"`
	Username string  `json:"username"`
	Password string  `json:"password"`
	FullName *string `json:"full_name,omitempty"`
}

func (r *RegisterRequest) Validate() error {
	r.Email = strings.TrimSpace(r.Email)
	r.Username = strings.TrimSpace(r.Username)
	switch {
	case r.Email == "":
		return dErrors.New(dErrors.CodeValidation, "email is required")
	case !govalidator.IsEmail(r.Email):
		return dErrors.New(dErrors.CodeValidation, "email must be a valid email address")
	case r.Username == "":
		return dErrors.New(dErrors.CodeValidation, "username is required")
	case r.Password == "":
		return dErrors.New(dErrors.CodeValidation, "password is required")
	}
	return nil
}

// LoginRequest accepts username_or_email, or the older username or email
// field, and forwards a single username_or_email.
type LoginRequest struct {
	UsernameOrEmail string `json:"username_or_email"`
	Username        string `json:"username,omitempty"`
	Email           string `json:"email,omitempty"`
	Password        string `json:"password"`
}

func (r *LoginRequest) Validate() error {
	r.UsernameOrEmail = strings.TrimSpace(r.UsernameOrEmail)
	if r.UsernameOrEmail == "" {
		r.UsernameOrEmail = strings.TrimSpace(r.Username)
	}
	if r.UsernameOrEmail == "" {
		r.UsernameOrEmail = strings.TrimSpace(r.Email)
	}
	r.Username, r.Email = "", ""
	if r.UsernameOrEmail == "" {
		return dErrors.New(dErrors.CodeValidation, "username_or_email is required")
	}
	if r.Password == "" {
		return dErrors.New(dErrors.CodeValidation, "password is required")
	}
	return nil
}

// UpdateProfileRequest forwards only the fields a user may change.
type UpdateProfileRequest struct {
	FullName *string `json:"full_name,omitempty"`
}

func (r *UpdateProfileRequest) Validate() error {
	return nil
}

// ChatbotRequest accepts {message} or {question} with an optional context.
type ChatbotRequest struct {
	Message  string  `json:"message"`
	Question string  `json:"question"`
	Context  *string `json:"context"`
}

func (r *ChatbotRequest) Validate() error {
	if strings.TrimSpace(r.Message) == "" {
		r.Message = r.Question
	}
	if strings.TrimSpace(r.Message) == "" {
		return dErrors.New(dErrors.CodeValidation, "message or question is required")
	}
	return nil
}

// chatbotPayload is what every chatbot backend accepts.
type chatbotPayload struct {
	Message string  `json:"message"`
	Context *string `json:"context,omitempty"`
}

func (r *ChatbotRequest) payload() chatbotPayload {
	return chatbotPayload{Message: r.Message, Context: r.Context}
}

// chatbotAnswer rewrites a chatbot reply of the form {reply} or {message}
// into {answer}. Any other body is returned unchanged.
func chatbotAnswer(body []byte) []byte {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return body
	}
	for _, key := range []string{"reply", "message"} {
		if v, ok := fields[key]; ok {
			out, err := json.Marshal(map[string]json.RawMessage{"answer": v})
			if err != nil {
				return body
			}
			return out
		}
	}
	return body
}
