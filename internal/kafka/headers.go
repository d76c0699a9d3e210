package kafka

import "github.com/segmentio/kafka-go"

const (
	HeaderEventType    = "x-event-type"
	HeaderEventVersion = "x-event-version"
)

// headerCarrier adapts kafka headers to otel's TextMapCarrier.
type headerCarrier struct{ h *[]kafka.Header }

func (c headerCarrier) Get(key string) string { return headerValue(*c.h, key) }

func (c headerCarrier) Set(key, value string) {
	for i := range *c.h {
		if (*c.h)[i].Key == key {
			(*c.h)[i].Value = []byte(value)
			return
		}
	}
	*c.h = append(*c.h, kafka.Header{Key: key, Value: []byte(value)})
}

func (c headerCarrier) Keys() []string {
	out := make([]string, 0, len(*c.h))
	for _, h := range *c.h {
		out = append(out, h.Key)
	}
	return out
}

func headerValue(hs []kafka.Header, key string) string {
	for _, h := range hs {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
