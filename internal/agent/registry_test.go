package agent

import (
	"context"
	"testing"
)

func namedCommand(names ...string) Command {
	return Command{
		Names: names,
		Handler: func(context.Context, map[string]any) (any, error) {
			return names[0], nil
		},
	}
}

func TestResolveLatestWins(t *testing.T) {
	registry := NewRegistry()
	registry.Add(namedCommand("search", "web_search"))
	registry.Add(namedCommand("search"))

	resolved := registry.Resolve("search")
	if resolved == nil {
		t.Fatal("应解析到 search 命令")
	}
	output, _ := resolved.Handler(context.Background(), nil)
	if output != "search" {
		t.Errorf("后加入的命令应当胜出，实际解析到 %v", output)
	}

	if registry.Resolve("web_search") == nil {
		t.Error("未被遮蔽的别名仍应可解析")
	}
	if registry.Resolve("missing") != nil {
		t.Error("未注册的命令应解析为 nil")
	}
}

func TestObscuredRequiresAllNamesCovered(t *testing.T) {
	registry := NewRegistry()
	registry.Add(namedCommand("x", "y"))
	registry.Add(namedCommand("y"))

	// 命令 A 仍有独占别名 x，不应被判为遮蔽。
	if obscured := registry.Obscured(); len(obscured) != 0 {
		t.Errorf("不应有被遮蔽的命令，实际: %v", obscured)
	}
}

func TestObscuredFullyCovered(t *testing.T) {
	registry := NewRegistry()
	registry.Add(namedCommand("a"))
	registry.Add(namedCommand("a", "b"))
	registry.Add(namedCommand("b"))

	obscured := registry.Obscured()
	if len(obscured) != 1 {
		t.Fatalf("应有 1 条被遮蔽的命令，实际 %d", len(obscured))
	}
	if obscured[0].Name() != "a" {
		t.Errorf("首条命令应被遮蔽，实际: %v", obscured[0].Names)
	}
}

func TestObscuredPreservesOriginalOrder(t *testing.T) {
	registry := NewRegistry()
	registry.Add(namedCommand("a"))
	registry.Add(namedCommand("b"))
	registry.Add(namedCommand("a"))
	registry.Add(namedCommand("b"))

	obscured := registry.Obscured()
	if len(obscured) != 2 {
		t.Fatalf("应有 2 条被遮蔽的命令，实际 %d", len(obscured))
	}
	if obscured[0].Name() != "a" || obscured[1].Name() != "b" {
		t.Errorf("结果应保持加入顺序: %v, %v", obscured[0].Names, obscured[1].Names)
	}
}
