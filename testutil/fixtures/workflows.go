// =============================================================================
// 📦 测试数据工厂 - 工作流定义
// =============================================================================
// 预置的工作流定义，供 client / worker / 示例测试共用
// =============================================================================
package fixtures

import (
	"github.com/BaSui01/herd/workflow"
)

// 菱形工作流中的作业类型
const (
	Prepare   = "Prepare"
	FetchA    = "FetchA"
	FetchB    = "FetchB"
	Normalize = "Normalize"
	Persist   = "Persist"
)

// Diamond 定义名
const Diamond = "Diamond"

// DiamondJobTypes 按拓扑顺序列出菱形工作流的作业类型
var DiamondJobTypes = []string{Prepare, FetchA, FetchB, Normalize, Persist}

// ConfigureDiamond 声明 Prepare → {FetchA, FetchB} → Normalize → Persist。
// 作业 id 固定为类型名的小写形式，方便断言。
func ConfigureDiamond(b *workflow.Builder, args ...any) error {
	prepare := b.Run(Prepare, workflow.WithJobID("prepare"), workflow.WithParams(map[string]any{"source": firstArg(args)}))
	fetchA := b.Run(FetchA, workflow.WithJobID("a"), workflow.After(prepare))
	fetchB := b.Run(FetchB, workflow.WithJobID("b"), workflow.After(prepare))
	normalize := b.Run(Normalize, workflow.WithJobID("normalize"), workflow.After(fetchA, fetchB))
	b.Run(Persist, workflow.WithJobID("persist"), workflow.After(normalize))
	return nil
}

// Linear 定义名：A → B
const Linear = "Linear"

// ConfigureLinear 声明两个作业的链，B 使用独立队列
func ConfigureLinear(b *workflow.Builder, _ ...any) error {
	first := b.Run("Extract")
	b.Run("Load", workflow.After(first), workflow.OnQueue("loaders"))
	return nil
}

// Parent 定义名：Start → Child(Linear) → Report
const Parent = "Parent"

// ConfigureParent 声明包含嵌套工作流节点的定义
func ConfigureParent(b *workflow.Builder, _ ...any) error {
	start := b.Run("Start", workflow.WithJobID("start"))
	child := b.Workflow(Linear, workflow.WithJobID("child"), workflow.After(start))
	b.Run("Report", workflow.WithJobID("report"), workflow.After(child))
	return nil
}

// Registry 返回注册了全部预置定义的 Registry
func Registry() *workflow.Registry {
	r := workflow.NewRegistry(nil)
	r.MustRegister(Diamond, ConfigureDiamond)
	r.MustRegister(Linear, ConfigureLinear)
	r.MustRegister(Parent, ConfigureParent)
	return r
}

// JobName 返回菱形工作流中某类型作业的完整名
func JobName(jobType string) string {
	ids := map[string]string{
		Prepare:   "prepare",
		FetchA:    "a",
		FetchB:    "b",
		Normalize: "normalize",
		Persist:   "persist",
	}
	return workflow.JobName(jobType, ids[jobType])
}

func firstArg(args []any) any {
	if len(args) == 0 {
		return nil
	}
	return args[0]
}
