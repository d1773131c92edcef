package configuration

type Configuration struct {
	HttpAddr string `usage:"HTTP address"`
	Dir      string `usage:"data directory"`
	Backend  string `usage:"storage backend: memory|journal|bolt|sqlite"`

	Collections string `usage:"index declarations, e.g. people=color,loc:geo;places=name"`

	Fsync         bool `usage:"journal: fsync every command"`
	CompactOnOpen bool `usage:"journal: rewrite logs after replay"`

	CacheSize        int `usage:"write-back cache capacity in records, 0 disables the cache"`
	CacheBatch       int `usage:"records committed and dropped per eviction"`
	CacheFlushMillis int `usage:"background commit period in milliseconds, 0 disables it"`
	CacheRetries     int `usage:"extra commit attempts for failing keys"`

	Version    bool `usage:"show version and exit"`
	ShowBanner bool `usage:"show big banner"`
	ShowConfig bool `usage:"print config"`
}
