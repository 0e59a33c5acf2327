package domain

import "time"

// InconsistencyEvent 发布到告警 topic 的不一致事件
type InconsistencyEvent struct {
	EventID    string    `json:"eventId"`
	Phase      Phase     `json:"phase"`
	BizKey     string    `json:"bizKey"`
	Scene      string    `json:"scene"`
	GoodsType  GoodsType `json:"goodsType"`
	GoodsID    string    `json:"goodsId"`
	Quantity   int64     `json:"quantity"`
	Outcome    string    `json:"outcome"`
	Operation  Operation `json:"operation"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurredAt"`
}

// InventoryCommand 通过 Kafka 下发的 TCC 指令
type InventoryCommand struct {
	CommandID string    `json:"commandId"`
	Phase     Phase     `json:"phase"`
	BizKey    string    `json:"bizKey"`
	GoodsID   string    `json:"goodsId"`
	GoodsType GoodsType `json:"goodsType"`
	Quantity  int64     `json:"quantity"`
}

// InventoryReply 指令执行结果，发布到回复 topic
type InventoryReply struct {
	CommandID string `json:"commandId"`
	Phase     Phase  `json:"phase"`
	BizKey    string `json:"bizKey"`
	Success   bool   `json:"success"`
	Code      string `json:"code"`
	Outcome   string `json:"outcome,omitempty"`
	Message   string `json:"message,omitempty"`
}
