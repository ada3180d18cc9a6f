// Package providers holds the per-provider response normalizers. Each
// converts one upstream's wire shape into the category's canonical model;
// the engine treats them as opaque collaborators.
package providers

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"MarketPull/internal/domain/models"
	"MarketPull/internal/engine"
)

// ByName resolves a normalizer referenced from configuration. Unknown names
// are an error at boot, not at fetch time.
func ByName(name string) (engine.Normalizer, error) {
	switch name {
	case "":
		return nil, nil
	case "coingecko_price":
		return CoinGeckoPrice, nil
	case "binance_ticker":
		return BinanceTicker, nil
	case "coincap_asset":
		return CoinCapAsset, nil
	case "cryptocompare_news":
		return CryptoCompareNews, nil
	case "alternative_fng":
		return AlternativeFearGreed, nil
	case "blockchair_address":
		return BlockchairAddress, nil
	default:
		return nil, fmt.Errorf("unknown normalizer: %s", name)
	}
}

// CoinGeckoPrice parses /simple/price responses:
// {"bitcoin":{"usd":42000,"usd_24h_change":1.2,"usd_24h_vol":1e9}}.
func CoinGeckoPrice(body []byte) (any, error) {
	var raw map[string]map[string]float64
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	quotes := make([]models.Quote, 0, len(raw))
	for id, fields := range raw {
		price, ok := fields["usd"]
		if !ok {
			return nil, fmt.Errorf("no usd price for %s", id)
		}
		quotes = append(quotes, models.Quote{
			Symbol:    id,
			Price:     price,
			Volume:    fields["usd_24h_vol"],
			Change24h: fields["usd_24h_change"],
			Timestamp: time.Now().Unix(),
		})
	}
	if len(quotes) == 0 {
		return nil, fmt.Errorf("empty price map")
	}
	if len(quotes) == 1 {
		return quotes[0], nil
	}
	return quotes, nil
}

// BinanceTicker parses /ticker/24hr responses:
// {"symbol":"BTCUSDT","lastPrice":"42000.00","volume":"1234.5","priceChangePercent":"1.2"}.
func BinanceTicker(body []byte) (any, error) {
	var raw struct {
		Symbol             string `json:"symbol"`
		LastPrice          string `json:"lastPrice"`
		Volume             string `json:"volume"`
		PriceChangePercent string `json:"priceChangePercent"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	price, err := strconv.ParseFloat(raw.LastPrice, 64)
	if err != nil {
		return nil, fmt.Errorf("parse lastPrice %q: %w", raw.LastPrice, err)
	}
	volume, _ := strconv.ParseFloat(raw.Volume, 64)
	change, _ := strconv.ParseFloat(raw.PriceChangePercent, 64)
	return models.Quote{
		Symbol:    raw.Symbol,
		Price:     price,
		Volume:    volume,
		Change24h: change,
		Timestamp: time.Now().Unix(),
	}, nil
}

// CoinCapAsset parses /assets/{id} responses:
// {"data":{"symbol":"BTC","priceUsd":"42000.0","changePercent24Hr":"1.2"}}.
func CoinCapAsset(body []byte) (any, error) {
	var raw struct {
		Data struct {
			Symbol           string `json:"symbol"`
			PriceUsd         string `json:"priceUsd"`
			ChangePercent24H string `json:"changePercent24Hr"`
			VolumeUsd24H     string `json:"volumeUsd24Hr"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	price, err := strconv.ParseFloat(raw.Data.PriceUsd, 64)
	if err != nil {
		return nil, fmt.Errorf("parse priceUsd %q: %w", raw.Data.PriceUsd, err)
	}
	volume, _ := strconv.ParseFloat(raw.Data.VolumeUsd24H, 64)
	change, _ := strconv.ParseFloat(raw.Data.ChangePercent24H, 64)
	return models.Quote{
		Symbol:    raw.Data.Symbol,
		Price:     price,
		Volume:    volume,
		Change24h: change,
		Timestamp: time.Now().Unix(),
	}, nil
}

// CryptoCompareNews parses /v2/news responses: {"Data":[{"title":...}]}.
func CryptoCompareNews(body []byte) (any, error) {
	var raw struct {
		Data []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Source      string `json:"source"`
			PublishedOn int64  `json:"published_on"`
		} `json:"Data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	items := make([]models.NewsItem, 0, len(raw.Data))
	for _, d := range raw.Data {
		items = append(items, models.NewsItem{
			Title:       d.Title,
			URL:         d.URL,
			SourceName:  d.Source,
			PublishedAt: d.PublishedOn,
		})
	}
	return items, nil
}

// AlternativeFearGreed parses alternative.me /fng responses:
// {"data":[{"value":"54","value_classification":"Neutral","timestamp":"1700000000"}]}.
func AlternativeFearGreed(body []byte) (any, error) {
	var raw struct {
		Data []struct {
			Value          string `json:"value"`
			Classification string `json:"value_classification"`
			Timestamp      string `json:"timestamp"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	if len(raw.Data) == 0 {
		return nil, fmt.Errorf("empty fng data")
	}
	value, err := strconv.Atoi(raw.Data[0].Value)
	if err != nil {
		return nil, fmt.Errorf("parse value %q: %w", raw.Data[0].Value, err)
	}
	ts, _ := strconv.ParseInt(raw.Data[0].Timestamp, 10, 64)
	return models.SentimentReading{
		Value:          value,
		Classification: raw.Data[0].Classification,
		Timestamp:      ts,
	}, nil
}

// BlockchairAddress parses blockchair dashboard responses, keeping only the
// address balance in base units.
func BlockchairAddress(body []byte) (any, error) {
	var raw struct {
		Data map[string]struct {
			Address struct {
				Balance float64 `json:"balance"`
			} `json:"address"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	for addr, d := range raw.Data {
		return models.AddressBalance{Address: addr, Balance: d.Address.Balance, Unit: "sat"}, nil
	}
	return nil, fmt.Errorf("empty address data")
}
