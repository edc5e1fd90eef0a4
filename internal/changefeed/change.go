// Package changefeed 把数据变更以消息的形式投递给触发器。
// 变更写入一个Redis Stream，由消费者组按"至少一次"的语义分发给各个处理函数。
package changefeed

import (
	"fmt"
	"time"
)

// Kind 是变更的种类
type Kind string

const (
	KindEventCreated  Kind = "event.created"
	KindEventDeleted  Kind = "event.deleted"
	KindBunnyDeleted  Kind = "bunny.deleted"
	KindUserCreated   Kind = "user.created"
	KindConfigUpdated Kind = "config.updated"
)

// Change 是一条变更通知。Carrots 以文本形式传输，由消费方校验。
type Change struct {
	Kind       Kind
	UserID     string
	BunnyID    string
	EventID    string
	Type       string
	Carrots    string
	OccurredAt time.Time
}

const (
	fieldKind       = "kind"
	fieldUserID     = "user_id"
	fieldBunnyID    = "bunny_id"
	fieldEventID    = "event_id"
	fieldType       = "type"
	fieldCarrots    = "carrots"
	fieldOccurredAt = "occurred_at"
	fieldError      = "error"
)

func (c Change) values() map[string]interface{} {
	occurred := c.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now()
	}
	v := map[string]interface{}{
		fieldKind:       string(c.Kind),
		fieldUserID:     c.UserID,
		fieldOccurredAt: occurred.UTC().Format(time.RFC3339Nano),
	}
	// 空字段不写入，保持消息紧凑
	for k, s := range map[string]string{
		fieldBunnyID: c.BunnyID,
		fieldEventID: c.EventID,
		fieldType:    c.Type,
		fieldCarrots: c.Carrots,
	} {
		if s != "" {
			v[k] = s
		}
	}
	return v
}

func parseChange(values map[string]interface{}) (Change, error) {
	str := func(key string) string {
		if s, ok := values[key].(string); ok {
			return s
		}
		return ""
	}

	c := Change{
		Kind:    Kind(str(fieldKind)),
		UserID:  str(fieldUserID),
		BunnyID: str(fieldBunnyID),
		EventID: str(fieldEventID),
		Type:    str(fieldType),
		Carrots: str(fieldCarrots),
	}
	if c.Kind == "" || c.UserID == "" {
		return c, fmt.Errorf("变更消息缺少 kind 或 user_id")
	}
	if ts := str(fieldOccurredAt); ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return c, fmt.Errorf("无法解析 occurred_at: %w", err)
		}
		c.OccurredAt = t
	}
	return c, nil
}
