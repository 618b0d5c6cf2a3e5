package bridge

import (
	"encoding/json"
	"strconv"
	"strings"

	"clinicsync/internal/ledger"
)

// TopicMapping binds a topic pattern to extraction rules. Rules are data, not
// code, so a deployment can adjust them without touching the bridge.
type TopicMapping struct {
	// Pattern matches a whole domain ("patients.*") or an exact topic.
	Pattern string
	// EntityType overrides topic-segment derivation when set.
	EntityType string
	// IDFields overrides the default ordered id-field scan when set.
	IDFields []string
	// Operation overrides topic-suffix derivation when set.
	Operation ledger.Operation
}

// MappingTable is the versioned set of extraction rules the bridge applies to
// inbound events. Version bumps whenever entries change meaning, so operators
// can tell which rules a running bridge carries.
type MappingTable struct {
	Version int
	Entries []TopicMapping
}

// defaultIDFields is the fixed, ordered list of payload fields scanned for an
// entity id. First match wins; no match means the event carries no entity.
var defaultIDFields = []string{
	"patientId",
	"appointmentId",
	"treatmentId",
	"invoiceId",
	"entityId",
	"id",
	"uuid",
}

// DefaultMappingTable covers the given business domains with one wildcard
// entry each, relying on suffix heuristics and the default id-field scan.
func DefaultMappingTable(domains []string) *MappingTable {
	entries := make([]TopicMapping, 0, len(domains))
	for _, d := range domains {
		entries = append(entries, TopicMapping{Pattern: d + ".*"})
	}
	return &MappingTable{Version: 1, Entries: entries}
}

// Resolve returns the first mapping whose pattern matches the topic.
func (t *MappingTable) Resolve(topic string) (TopicMapping, bool) {
	for _, m := range t.Entries {
		if matchPattern(m.Pattern, topic) {
			return m, true
		}
	}
	return TopicMapping{}, false
}

func matchPattern(pattern, topic string) bool {
	if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
		return topic == prefix || strings.HasPrefix(topic, prefix+".")
	}
	return pattern == topic
}

// DeriveOperation maps a topic to an operation. Suffixes announcing creation
// map to INSERT, removal to DELETE; everything else is an UPDATE.
func (m TopicMapping) DeriveOperation(topic string) ledger.Operation {
	if m.Operation != "" {
		return m.Operation
	}
	suffix := topic
	if i := strings.LastIndex(topic, "."); i >= 0 {
		suffix = topic[i+1:]
	}
	suffix = strings.ToLower(suffix)
	switch {
	case strings.Contains(suffix, "created"),
		strings.Contains(suffix, "registered"),
		strings.Contains(suffix, "added"):
		return ledger.OperationInsert
	case strings.Contains(suffix, "deleted"),
		strings.Contains(suffix, "removed"),
		strings.Contains(suffix, "cancelled"):
		return ledger.OperationDelete
	}
	return ledger.OperationUpdate
}

// DeriveEntityType takes the first one or two topic segments
// ("patients.demographics.updated" -> "patients.demographics").
func (m TopicMapping) DeriveEntityType(topic string) string {
	if m.EntityType != "" {
		return m.EntityType
	}
	segments := strings.Split(topic, ".")
	if len(segments) >= 3 {
		return segments[0] + "." + segments[1]
	}
	return segments[0]
}

// DeriveEntityID scans the payload for the first matching id field. An empty
// result marks the event as non-entity; the bridge drops it silently.
func (m TopicMapping) DeriveEntityID(payload json.RawMessage) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return ""
	}
	idFields := m.IDFields
	if len(idFields) == 0 {
		idFields = defaultIDFields
	}
	for _, name := range idFields {
		raw, ok := fields[name]
		if !ok {
			continue
		}
		var asString string
		if err := json.Unmarshal(raw, &asString); err == nil && asString != "" {
			return asString
		}
		var asNumber int64
		if err := json.Unmarshal(raw, &asNumber); err == nil {
			return strconv.FormatInt(asNumber, 10)
		}
	}
	return ""
}
