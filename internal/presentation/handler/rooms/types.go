package rooms

type statsResponse struct {
	Rooms       int `json:"rooms"`
	Connections int `json:"connections"`
}
