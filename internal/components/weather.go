package components

import (
	"context"
	"fmt"

	"OpenAgent-Loop/internal/agent"
	"OpenAgent-Loop/internal/blocks"
	"OpenAgent-Loop/internal/llm"
)

// WeatherComponent 提供当前天气查询命令。
type WeatherComponent struct {
	weather *blocks.WeatherBlock
}

// NewWeatherComponent 创建天气组件。
func NewWeatherComponent(weather *blocks.WeatherBlock) *WeatherComponent {
	return &WeatherComponent{weather: weather}
}

func (c *WeatherComponent) Name() string { return "weather" }

// Commands 返回 get_weather 命令。
func (c *WeatherComponent) Commands(context.Context) ([]agent.Command, error) {
	return []agent.Command{
		{
			Names:       []string{"get_weather", "current_weather"},
			Description: "Retrieves the current weather for a given location.",
			Parameters: []llm.ParameterSpec{
				{Name: "location", Type: "string", Description: "The city to check, e.g. 'Paris'", Required: true},
				{Name: "use_celsius", Type: "boolean", Description: "Report in Celsius instead of Fahrenheit", Required: false},
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				location := agent.StringArg(args, "location")
				if location == "" {
					return nil, fmt.Errorf("location 参数不能为空")
				}
				useCelsius := agent.BoolArg(args, "use_celsius", true)
				report, err := c.weather.Current(ctx, location, useCelsius)
				if err != nil {
					return nil, err
				}
				unit := "°F"
				if useCelsius {
					unit = "°C"
				}
				return fmt.Sprintf("Weather in %s: %s%s, humidity %s%%, %s",
					location, report.Temperature, unit, report.Humidity, report.Condition), nil
			},
		},
	}, nil
}

var (
	_ agent.Component       = (*WeatherComponent)(nil)
	_ agent.CommandProvider = (*WeatherComponent)(nil)
)
