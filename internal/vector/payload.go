package vector

import (
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
)

// Reserved payload keys. Metadata keys must not collide with these.
const (
	payloadContent    = "content"
	payloadHasContent = "has_content"
	payloadSnippet    = "snippet"
)

// SessionKey is the metadata key used to scope points to an ingest session.
const SessionKey = "session_id"

func reservedKey(k string) bool {
	return k == payloadContent || k == payloadHasContent || k == payloadSnippet
}

// encodePayload converts a validated Point into a Qdrant payload map.
func encodePayload(p *Point) (map[string]*pb.Value, error) {
	payload := map[string]*pb.Value{
		payloadHasContent: {Kind: &pb.Value_BoolValue{BoolValue: p.HasContent}},
		payloadSnippet:    {Kind: &pb.Value_StringValue{StringValue: p.Snippet}},
	}
	if p.HasContent {
		payload[payloadContent] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: p.Content}}
	}
	for k, v := range p.Metadata {
		if reservedKey(k) {
			return nil, fmt.Errorf("metadata key %q shadows a reserved payload key", k)
		}
		payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
	}
	return payload, nil
}

// decodePayload splits a Qdrant payload map back into content fields and
// metadata. Unknown value kinds are stringified via the proto representation.
func decodePayload(payload map[string]*pb.Value) (content string, hasContent bool, snippet string, meta map[string]string) {
	meta = make(map[string]string)
	for k, v := range payload {
		switch k {
		case payloadContent:
			content = v.GetStringValue()
		case payloadHasContent:
			hasContent = v.GetBoolValue()
		case payloadSnippet:
			snippet = v.GetStringValue()
		default:
			meta[k] = valueString(v)
		}
	}
	return content, hasContent, snippet, meta
}

func valueString(v *pb.Value) string {
	switch kind := v.GetKind().(type) {
	case *pb.Value_StringValue:
		return kind.StringValue
	case *pb.Value_IntegerValue:
		return fmt.Sprintf("%d", kind.IntegerValue)
	case *pb.Value_DoubleValue:
		return fmt.Sprintf("%g", kind.DoubleValue)
	case *pb.Value_BoolValue:
		return fmt.Sprintf("%t", kind.BoolValue)
	default:
		return v.String()
	}
}

// matchFilter builds a Qdrant must-match-all filter from string metadata.
// Returns nil for an empty filter.
func matchFilter(filter map[string]string) *pb.Filter {
	if len(filter) == 0 {
		return nil
	}
	conditions := make([]*pb.Condition, 0, len(filter))
	for k, v := range filter {
		conditions = append(conditions, &pb.Condition{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{
					Key:   k,
					Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: v}},
				},
			},
		})
	}
	return &pb.Filter{Must: conditions}
}
