package provider

import (
	"fmt"
	"sort"
	"strings"
)

// Registry 是 provider 的只读注册表（按 name 索引）。
type Registry struct {
	byName map[string]Provider
	names  []string // 排序后的全部 name，用于确定回退顺序
}

func NewRegistry(providers ...Provider) (Registry, error) {
	byName := make(map[string]Provider, len(providers))
	names := make([]string, 0, len(providers))
	for _, p := range providers {
		if p == nil {
			return Registry{}, fmt.Errorf("provider 不能为空")
		}
		name := strings.ToLower(strings.TrimSpace(p.Name()))
		if name == "" {
			return Registry{}, fmt.Errorf("provider.Name 不能为空")
		}
		if _, ok := byName[name]; ok {
			return Registry{}, fmt.Errorf("重复的 provider：%q", name)
		}
		byName[name] = p
		names = append(names, name)
	}
	sort.Strings(names)
	return Registry{byName: byName, names: names}, nil
}

func (r Registry) Get(name string) (Provider, bool) {
	if r.byName == nil {
		return nil, false
	}
	name = strings.ToLower(strings.TrimSpace(name))
	p, ok := r.byName[name]
	return p, ok
}

// Names 返回已注册的 provider 名称（字典序）。
func (r Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// fallbackOrder：requested 在前，其余按字典序。
func (r Registry) fallbackOrder(requested string) ([]string, error) {
	if _, ok := r.Get(requested); !ok {
		return nil, fmt.Errorf("未知 provider：%q", requested)
	}
	order := make([]string, 0, len(r.names))
	order = append(order, requested)
	for _, n := range r.names {
		if n != requested {
			order = append(order, n)
		}
	}
	return order, nil
}
