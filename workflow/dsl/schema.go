package dsl

// DefinitionDSL 声明式工作流定义的顶层结构
type DefinitionDSL struct {
	// Version DSL 版本，目前只有 "1"
	Version string `yaml:"version" json:"version"`
	// Name 注册到 Registry 的定义名
	Name string `yaml:"name" json:"name"`
	// Description 定义描述
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Variables 参数中 ${name} 占位符可引用的变量
	Variables map[string]VariableDef `yaml:"variables,omitempty" json:"variables,omitempty"`

	// Jobs 作业与嵌套工作流节点
	Jobs []JobDef `yaml:"jobs" json:"jobs"`
}

// VariableDef 变量定义
type VariableDef struct {
	Default     any    `yaml:"default,omitempty" json:"default,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Required    bool   `yaml:"required,omitempty" json:"required,omitempty"`
}

// JobDef 一个节点。Type 与 Workflow 二选一：Type 是作业类型，
// Workflow 是在运行时实例化的已注册定义。
type JobDef struct {
	// Name 文件内引用该节点的句柄，缺省为 Type（或 Workflow）
	Name     string         `yaml:"name,omitempty" json:"name,omitempty"`
	Type     string         `yaml:"type,omitempty" json:"type,omitempty"`
	Workflow string         `yaml:"workflow,omitempty" json:"workflow,omitempty"`
	ID       string         `yaml:"id,omitempty" json:"id,omitempty"`
	After    []string       `yaml:"after,omitempty" json:"after,omitempty"`
	Before   []string       `yaml:"before,omitempty" json:"before,omitempty"`
	Queue    string         `yaml:"queue,omitempty" json:"queue,omitempty"`
	Params   map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
	Args     []any          `yaml:"args,omitempty" json:"args,omitempty"`
}

// handle 返回文件内引用该节点的名字
func (j JobDef) handle() string {
	switch {
	case j.Name != "":
		return j.Name
	case j.Type != "":
		return j.Type
	default:
		return j.Workflow
	}
}
