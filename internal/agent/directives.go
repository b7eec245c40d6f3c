package agent

// Directives 汇总指导模型行为的约束、资源与最佳实践。Agent 持有一份
// 不可变的基线；每个循环先深拷贝基线，再叠加各组件的贡献，绝不
// 原地修改基线。
type Directives struct {
	Constraints   []string `json:"constraints,omitempty"`
	Resources     []string `json:"resources,omitempty"`
	BestPractices []string `json:"best_practices,omitempty"`
}

// Clone 返回一份深拷贝。
func (d Directives) Clone() Directives {
	return Directives{
		Constraints:   cloneStrings(d.Constraints),
		Resources:     cloneStrings(d.Resources),
		BestPractices: cloneStrings(d.BestPractices),
	}
}

// Extend 返回叠加了额外条目的新副本，接收者保持不变。
func (d Directives) Extend(constraints, resources, bestPractices []string) Directives {
	out := d.Clone()
	out.Constraints = append(out.Constraints, constraints...)
	out.Resources = append(out.Resources, resources...)
	out.BestPractices = append(out.BestPractices, bestPractices...)
	return out
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
