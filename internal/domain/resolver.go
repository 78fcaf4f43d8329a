package domain

import (
	"fmt"
	"strings"
)

type visitState uint8

const (
	unvisited visitState = iota
	visiting
	visited
)

// ResolverOption はResolverの挙動を変更する。
type ResolverOption func(*Resolver)

// WithStrictClassification は未知のスキーマ名をエラーとして扱う。
func WithStrictClassification() ResolverOption {
	return func(r *Resolver) {
		r.classifier.Strict = true
	}
}

// WithTransitiveSynthesis は補完したスキーマにも種別の依存を持たせる。
// 既定では補完されたスキーマの依存は空で、依存展開は1段のみ。
func WithTransitiveSynthesis() ResolverOption {
	return func(r *Resolver) {
		r.transitive = true
	}
}

// WithSchemaDependency は特定のスキーマに名前付きスキーマへの依存を追加する。
func WithSchemaDependency(schemaName, dependsOn string) ResolverOption {
	return func(r *Resolver) {
		r.extra[schemaName] = append(r.extra[schemaName], OnSchema(dependsOn))
	}
}

// Resolver はスキーマ間の依存関係を解決し、マイグレーション順序を決定する。
// 状態は呼び出しごとに生成されるため、同時に複数のゴルーチンから利用できる。
type Resolver struct {
	topology   *Topology
	classifier Classifier
	transitive bool
	extra      map[string][]Dependency
}

// NewResolver は新しいResolverを生成する。topology が nil の場合は DefaultTopology を使う。
func NewResolver(topology *Topology, opts ...ResolverOption) *Resolver {
	if topology == nil {
		topology = DefaultTopology()
	}
	r := &Resolver{
		topology: topology,
		extra:    make(map[string][]Dependency),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Topology は解決に使うトポロジーを返す。
func (r *Resolver) Topology() *Topology {
	return r.topology
}

// Classify はResolverの分類規則でスキーマ名を分類する。
func (r *Resolver) Classify(schemaName string) SchemaType {
	return r.classifier.Classify(schemaName)
}

// ResolveOrder は依存先が必ず先に来る順序でマイグレーション対象を返す。
func (r *Resolver) ResolveOrder(schemaNames []string) ([]SchemaMigration, error) {
	plan, err := r.Resolve(schemaNames)
	if err != nil {
		return nil, err
	}
	return plan.Order, nil
}

// Resolve は依存関係を深さ優先の帰りがけ順で解決する。
// 入力にない依存先は代表スキーマとして補完される。
// 循環がある場合も停止し、順序保証できなかった辺を DroppedEdges に記録する。
// エラーは厳格モードで未知のスキーマ名が含まれる場合のみ返す。
func (r *Resolver) Resolve(schemaNames []string) (*Plan, error) {
	g := &graph{index: make(map[string]int, len(schemaNames))}

	var unknown []string
	roots := make([]int, 0, len(schemaNames))
	for _, name := range schemaNames {
		if _, dup := g.index[name]; dup {
			continue
		}
		st := r.classifier.Classify(name)
		if st == SchemaTypeUnknown {
			unknown = append(unknown, name)
			continue
		}
		roots = append(roots, g.add(r.newMigration(name, st, false)))
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSchema, strings.Join(unknown, ", "))
	}

	plan := &Plan{Order: make([]SchemaMigration, 0, len(roots))}
	var stack []frame
	for _, root := range roots {
		if g.nodes[root].state != unvisited {
			continue
		}
		g.nodes[root].state = visiting
		stack = append(stack[:0], frame{node: root})

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			deps := g.nodes[top.node].migration.Dependencies
			if top.next < len(deps) {
				dep := deps[top.next]
				top.next++
				from := g.nodes[top.node].migration.SchemaName

				target, ok := dep.Target()
				if !ok {
					continue
				}
				idx, found := g.index[target]
				if !found {
					idx = g.add(r.synthesize(target, dep))
				}
				switch g.nodes[idx].state {
				case unvisited:
					g.nodes[idx].state = visiting
					stack = append(stack, frame{node: idx})
				case visiting:
					plan.DroppedEdges = append(plan.DroppedEdges, Edge{From: from, To: target})
				}
				continue
			}

			g.nodes[top.node].state = visited
			plan.Order = append(plan.Order, g.nodes[top.node].migration)
			stack = stack[:len(stack)-1]
		}
	}

	return plan, nil
}

func (r *Resolver) newMigration(name string, st SchemaType, synthesized bool) SchemaMigration {
	m := SchemaMigration{
		SchemaName:        name,
		SchemaType:        st,
		MigrationLocation: r.topology.LocationFor(st),
		Synthesized:       synthesized,
	}
	if synthesized && !r.transitive {
		m.Dependencies = []Dependency{}
		return m
	}
	deps := r.topology.DependenciesOf(st)
	m.Dependencies = make([]Dependency, 0, len(deps)+len(r.extra[name]))
	for _, d := range deps {
		m.Dependencies = append(m.Dependencies, OnType(d))
	}
	m.Dependencies = append(m.Dependencies, r.extra[name]...)
	return m
}

func (r *Resolver) synthesize(name string, dep Dependency) SchemaMigration {
	st := dep.Type
	if dep.Schema != "" {
		st = Classifier{}.Classify(name)
	}
	return r.newMigration(name, st, true)
}

type frame struct {
	node int
	next int
}

type node struct {
	migration SchemaMigration
	state     visitState
}

// graph はスキーマ名で索引付けされたマイグレーションのアリーナ。
type graph struct {
	nodes []node
	index map[string]int
}

func (g *graph) add(m SchemaMigration) int {
	g.nodes = append(g.nodes, node{migration: m})
	idx := len(g.nodes) - 1
	g.index[m.SchemaName] = idx
	return idx
}
