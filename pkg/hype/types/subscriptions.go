package types

import "encoding/json"

type GenericMessage struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// UserFillsMessage userFills 频道推送。连接后的第一批带 isSnapshot=true，
// 是历史快照而不是实时成交
type UserFillsMessage struct {
	Channel string        `json:"channel"`
	Data    UserFillsData `json:"data"`
}

type UserFillsData struct {
	IsSnapshot bool       `json:"isSnapshot,omitempty"`
	User       string     `json:"user"`
	Fills      []UserFill `json:"fills"`
}

type AllMidsMessage struct {
	Channel string `json:"channel"`
	Data    Mids   `json:"data"`
}

type Mids struct {
	Prices map[string]string `json:"mids"`
}
