package handler

type RootResponse struct {
	Message string `json:"message"`
	Version string `json:"version"`
}

// GatewayHealthResponse maps each backend name to ok, unhealthy or
// unavailable.
type GatewayHealthResponse struct {
	Status      string            `json:"status"`
	Service     string            `json:"service"`
	Version     string            `json:"version"`
	Environment string            `json:"environment"`
	Backends    map[string]string `json:"backends"`
}
