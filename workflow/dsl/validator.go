package dsl

import (
	"fmt"
)

// SupportedVersion 当前支持的 DSL 版本
const SupportedVersion = "1"

// Validator DSL 验证器
type Validator struct{}

// NewValidator 创建验证器
func NewValidator() *Validator {
	return &Validator{}
}

// Validate 验证定义，返回全部问题而不是第一个
func (v *Validator) Validate(def *DefinitionDSL) []error {
	var errs []error

	if def.Version == "" {
		errs = append(errs, fmt.Errorf("version is required"))
	} else if def.Version != SupportedVersion {
		errs = append(errs, fmt.Errorf("unsupported version %q", def.Version))
	}
	if def.Name == "" {
		errs = append(errs, fmt.Errorf("name is required"))
	}
	if len(def.Jobs) == 0 {
		errs = append(errs, fmt.Errorf("jobs must have at least one entry"))
	}

	handles := make(map[string]bool, len(def.Jobs))
	for i, job := range def.Jobs {
		switch {
		case job.Type == "" && job.Workflow == "":
			errs = append(errs, fmt.Errorf("jobs[%d]: type or workflow is required", i))
			continue
		case job.Type != "" && job.Workflow != "":
			errs = append(errs, fmt.Errorf("jobs[%d]: type and workflow are mutually exclusive", i))
		}
		if len(job.Args) > 0 && job.Workflow == "" {
			errs = append(errs, fmt.Errorf("job %s: args only apply to workflow nodes", job.handle()))
		}

		h := job.handle()
		if handles[h] {
			errs = append(errs, fmt.Errorf("duplicate job handle %q, set a distinct name", h))
		}
		handles[h] = true
	}

	// 引用完整性
	for _, job := range def.Jobs {
		for _, ref := range append(append([]string{}, job.After...), job.Before...) {
			if ref == job.handle() {
				errs = append(errs, fmt.Errorf("job %s references itself", ref))
				continue
			}
			if !handles[ref] {
				errs = append(errs, fmt.Errorf("job %s references unknown job %q", job.handle(), ref))
			}
		}
	}

	for name, variable := range def.Variables {
		if variable.Required && variable.Default != nil {
			errs = append(errs, fmt.Errorf("variable %s: required variables take no default", name))
		}
	}

	return errs
}
