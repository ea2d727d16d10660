package redis

// Key layout per symbol:
//
//	price:latest:{symbol}   SET, last quote JSON with TTL
//	price:{symbol}          stream of quote JSON under field "data"
//	pub:price:{symbol}      pubsub channel of quote JSON

func LatestKey(symbol string) string { return "price:latest:" + symbol }

func StreamKey(symbol string) string { return "price:" + symbol }

func PubSubChannel(symbol string) string { return "pub:price:" + symbol }
