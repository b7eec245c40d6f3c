package agent

import "OpenAgent-Loop/internal/llm"

// Registry 保存当前循环收集到的命令列表。命令按加入顺序保存，
// 解析别名时后加入者胜出，因此列表靠后的组件可以覆盖先前组件
// 暴露的同名命令。每个循环都会重建注册表，不做跨循环缓存。
type Registry struct {
	commands []Command
}

// NewRegistry 构造一个空的命令注册表。
func NewRegistry() *Registry {
	return &Registry{}
}

// Add 依序追加命令。
func (r *Registry) Add(commands ...Command) {
	r.commands = append(r.commands, commands...)
}

// Len 返回命令数量。
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.commands)
}

// Commands 返回命令列表的副本，保持加入顺序。
func (r *Registry) Commands() []Command {
	if r == nil || len(r.commands) == 0 {
		return nil
	}
	out := make([]Command, len(r.commands))
	copy(out, r.commands)
	return out
}

// Specs 返回全部命令的函数规格，顺序与加入顺序一致。
func (r *Registry) Specs() []llm.FunctionSpec {
	if r == nil || len(r.commands) == 0 {
		return nil
	}
	specs := make([]llm.FunctionSpec, 0, len(r.commands))
	for _, cmd := range r.commands {
		specs = append(specs, cmd.Spec())
	}
	return specs
}

// Resolve 按"最近加入者优先"的规则解析命令名：从尾部向前线性扫描，
// 返回第一个别名匹配的命令；未命中返回 nil。
func (r *Registry) Resolve(name string) *Command {
	if r == nil {
		return nil
	}
	for i := len(r.commands) - 1; i >= 0; i-- {
		if r.commands[i].HasName(name) {
			cmd := r.commands[i]
			return &cmd
		}
	}
	return nil
}

// Obscured 返回被完全遮蔽的命令：其所有别名都已被更高优先级的命令
// 占用，因而永远无法被解析到。结果按原始加入顺序排列，仅用于诊断。
func (r *Registry) Obscured() []Command {
	if r == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var obscured []Command
	for i := len(r.commands) - 1; i >= 0; i-- {
		cmd := r.commands[i]
		covered := true
		for _, name := range cmd.Names {
			if _, ok := seen[name]; !ok {
				covered = false
			}
		}
		if covered {
			obscured = append(obscured, cmd)
			continue
		}
		for _, name := range cmd.Names {
			seen[name] = struct{}{}
		}
	}
	// 反向扫描得到的结果是逆序的，翻转回原始顺序。
	for i, j := 0, len(obscured)-1; i < j; i, j = i+1, j-1 {
		obscured[i], obscured[j] = obscured[j], obscured[i]
	}
	return obscured
}
