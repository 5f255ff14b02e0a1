package chunks

// EntityStub describes an entity to create when its chunk becomes ready.
type EntityStub struct {
	Prefab string            `json:"prefab"`
	Pos    Vec3i             `json:"pos"`
	Fields map[string]string `json:"fields,omitempty"`
}
