package client

import (
	"context"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/perpplay/hl/types"
	"github.com/betbot/perpplay/pkg/ratelimit"
)

const (
	infoPath     = "/info"
	exchangePath = "/exchange"
)

// Options 客户端参数
type Options struct {
	Timeout         time.Duration
	RetryCount      int // 只作用于 /info，/exchange 永不重试
	RateLimitPerSec int
	Logger          *logrus.Entry
}

// Client 交易所 HTTP 客户端
//
// 读接口（/info）与写接口（/exchange）使用两个 resty 实例：
// 已签名的动作是一次性的，重发同一载荷不安全，所以写接口关闭重试。
type Client struct {
	network  types.NetworkConfig
	info     *resty.Client
	exchange *resty.Client
	limiter  *ratelimit.Manager
	log      *logrus.Entry
}

// New 创建客户端
func New(network types.NetworkConfig, opts Options) *Client {
	host := strings.TrimRight(network.APIURL, "/")
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logrus.WithField("component", "hl.client")
	}

	info := resty.New().
		SetBaseURL(host).
		SetTimeout(opts.Timeout).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(opts.RetryCount).
		SetRetryWaitTime(300 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == 429 || r.StatusCode() >= 500
		})

	exchange := resty.New().
		SetBaseURL(host).
		SetTimeout(opts.Timeout).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(0)

	return &Client{
		network:  network,
		info:     info,
		exchange: exchange,
		limiter:  ratelimit.NewManager(opts.RateLimitPerSec),
		log:      opts.Logger,
	}
}

// Network 当前网络参数
func (c *Client) Network() types.NetworkConfig {
	return c.network
}

// post 发送 JSON 请求并返回响应体
func (c *Client) post(ctx context.Context, rc *resty.Client, endpoint, path string, body any) ([]byte, error) {
	if err := c.limiter.Wait(ctx, endpoint); err != nil {
		return nil, classifyTransportError("ratelimit "+path, err)
	}

	start := time.Now()
	resp, err := rc.R().
		SetContext(ctx).
		SetBody(body).
		Post(path)
	if err != nil {
		return nil, classifyTransportError("POST "+path, err)
	}
	c.log.Debugf("POST %s -> %d (%s)", path, resp.StatusCode(), time.Since(start).Truncate(time.Millisecond))

	if !resp.IsSuccess() {
		return nil, errors.WithStack(&APIError{
			StatusCode: resp.StatusCode(),
			Body:       strings.TrimSpace(string(resp.Body())),
		})
	}
	return resp.Body(), nil
}
