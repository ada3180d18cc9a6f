package cache

// GenerateKey joins a namespace prefix and key with the ':' separator used
// across all tiers.
func GenerateKey(prefix, key string) string {
	return prefix + ":" + key
}

// BuildPattern turns a key prefix into a glob matching every key under it.
func BuildPattern(prefix string) string {
	return prefix + "*"
}
