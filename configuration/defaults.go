package configuration

func Default() Configuration {
	return Configuration{
		HttpAddr:         "127.0.0.1:8080",
		Dir:              "data",
		Backend:          "journal",
		CacheSize:        10000,
		CacheBatch:       100,
		CacheFlushMillis: 1000,
		CacheRetries:     3,
		ShowBanner:       true,
	}
}
