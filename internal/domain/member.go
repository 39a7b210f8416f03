package domain

type Member struct {
	ConnID string `json:"connId"`
	Name   string `json:"name"`
}

func NewMember(connID, name string) Member {
	return Member{
		ConnID: connID,
		Name:   name,
	}
}
