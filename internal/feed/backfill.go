package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"quiver/internal/logger"
	"quiver/internal/market"
	"quiver/internal/store"
)

// BinanceSource 基于 Binance USDT 合约 REST /fapi/v1/klines，内置限速。
type BinanceSource struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

func NewBinanceSource(base string, ratePerMin int) *BinanceSource {
	if base == "" {
		base = "https://fapi.binance.com"
	}
	perSec := rate.Limit(float64(ratePerMin) / 60.0)
	if ratePerMin <= 0 {
		perSec = 8
	}
	return &BinanceSource{
		baseURL: base,
		client:  &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(perSec, 4),
	}
}

// FetchRequest 描述一页 K 线拉取，Start/End 为毫秒时间戳。
type FetchRequest struct {
	Symbol   string
	Interval string
	Start    int64
	End      int64
	Limit    int
}

func (b *BinanceSource) Fetch(ctx context.Context, req FetchRequest) ([]market.Candle, error) {
	if req.Symbol == "" || req.Interval == "" {
		return nil, fmt.Errorf("symbol/interval 不能为空")
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit <= 0 || limit > 1500 {
		limit = 1000
	}
	u, _ := url.Parse(b.baseURL)
	u.Path = "/fapi/v1/klines"
	q := u.Query()
	q.Set("symbol", req.Symbol)
	q.Set("interval", req.Interval)
	q.Set("limit", strconv.Itoa(limit))
	if req.Start > 0 {
		q.Set("startTime", strconv.FormatInt(req.Start, 10))
	}
	if req.End > 0 {
		q.Set("endTime", strconv.FormatInt(req.End, 10))
	}
	u.RawQuery = q.Encode()

	httpReq, _ := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("binance 返回状态码 %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	rows := gjson.ParseBytes(body)
	if !rows.IsArray() {
		return nil, fmt.Errorf("binance 返回非数组响应: %s", truncate(body, 200))
	}
	out := make([]market.Candle, 0, 16)
	rows.ForEach(func(_, row gjson.Result) bool {
		arr := row.Array()
		if len(arr) < 7 {
			return true
		}
		out = append(out, market.Candle{
			OpenTime:  arr[0].Int(),
			Open:      arr[1].Float(),
			High:      arr[2].Float(),
			Low:       arr[3].Float(),
			Close:     arr[4].Float(),
			Volume:    arr[5].Float(),
			CloseTime: arr[6].Int(),
		})
		return true
	})
	return out, nil
}

// Backfill 分页拉取 [start, end] 区间 K 线并写入本地存储，返回写入条数。
func Backfill(ctx context.Context, src *BinanceSource, cs *store.CandleStore, symbol, interval string, start, end int64) (int, error) {
	if src == nil || cs == nil {
		return 0, fmt.Errorf("source/store 不能为空")
	}
	total := 0
	cursor := start
	for cursor < end {
		batch, err := src.Fetch(ctx, FetchRequest{
			Symbol:   symbol,
			Interval: interval,
			Start:    cursor,
			End:      end,
			Limit:    1000,
		})
		if err != nil {
			return total, err
		}
		if len(batch) == 0 {
			break
		}
		inserted, err := cs.InsertCandles(ctx, symbol, interval, batch)
		if err != nil {
			return total, err
		}
		total += inserted
		last := batch[len(batch)-1].OpenTime
		if last <= cursor {
			break
		}
		cursor = last + 1
		logger.Debugf("[feed] %s@%s 已回补 %d 条，游标 %d", symbol, interval, total, cursor)
	}
	logger.Infof("[feed] %s@%s 回补完成，共 %d 条", symbol, interval, total)
	return total, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
