package batch

import "encoding/json"

// MarshalJSON encodes the group as its ordered channel entries.
func (g Group) MarshalJSON() ([]byte, error) {
	if g.entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(g.entries)
}

// UnmarshalJSON decodes and validates channel entries.
func (g *Group) UnmarshalJSON(data []byte) error {
	var entries []ChannelJob
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	group, err := NewGroup(entries...)
	if err != nil {
		return err
	}
	*g = group
	return nil
}
