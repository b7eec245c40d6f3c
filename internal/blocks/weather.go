package blocks

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const defaultWeatherBaseURL = "http://api.openweathermap.org/data/2.5"

// WeatherReport 汇总一次天气查询的结果。
type WeatherReport struct {
	Temperature string `json:"temperature"`
	Humidity    string `json:"humidity"`
	Condition   string `json:"condition"`
}

// WeatherBlock 通过 OpenWeatherMap 查询指定地点的当前天气。
type WeatherBlock struct {
	BaseURL string
	APIKey  string
	HTTP    *HTTPClient
}

// Current 返回地点的当前天气。useCelsius 为真时使用摄氏单位。
func (b *WeatherBlock) Current(ctx context.Context, location string, useCelsius bool) (*WeatherReport, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, fmt.Errorf("地点不能为空")
	}
	if strings.TrimSpace(b.APIKey) == "" {
		return nil, fmt.Errorf("未配置 OpenWeatherMap API Key")
	}
	base := b.BaseURL
	if base == "" {
		base = defaultWeatherBaseURL
	}
	units := "imperial"
	if useCelsius {
		units = "metric"
	}

	var decoded struct {
		Main *struct {
			Temp     float64 `json:"temp"`
			Humidity float64 `json:"humidity"`
		} `json:"main"`
		Weather []struct {
			Description string `json:"description"`
		} `json:"weather"`
	}
	endpoint := fmt.Sprintf("%s/weather?q=%s&appid=%s&units=%s",
		strings.TrimRight(base, "/"), url.QueryEscape(location), url.QueryEscape(b.APIKey), units)
	if err := b.HTTP.GetJSON(ctx, endpoint, nil, &decoded); err != nil {
		return nil, fmt.Errorf("查询天气失败: %w", err)
	}
	if decoded.Main == nil || len(decoded.Weather) == 0 {
		return nil, fmt.Errorf("天气响应缺少必要字段")
	}

	return &WeatherReport{
		Temperature: strconv.FormatFloat(decoded.Main.Temp, 'f', -1, 64),
		Humidity:    strconv.FormatFloat(decoded.Main.Humidity, 'f', -1, 64),
		Condition:   decoded.Weather[0].Description,
	}, nil
}
