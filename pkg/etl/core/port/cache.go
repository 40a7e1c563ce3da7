package port

// Cache is an optional read-through cache for immutable or slowly changing reads.
type Cache interface {
	Get(key string) (interface{}, bool)
	Set(key string, value interface{})
	Remove(key string)
}
