package bonfida

import "go.uber.org/zap"

// GetClient 使用默认地址的 REST 客户端
func GetClient(logger *zap.Logger) IClient {
	return NewClient(DefaultRESTURL, nil, logger)
}

// GetStreamingClient 使用默认地址和 gorilla 连接的推送客户端
func GetStreamingClient(logger *zap.Logger) IStreamingClient {
	return NewStreamingClient(DefaultStreamURL, nil, nil, logger)
}
