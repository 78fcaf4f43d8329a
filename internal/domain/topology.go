package domain

import (
	"fmt"
	"strings"
)

// DefaultDatabasePrefix はテナントDB名から取り除く接頭辞。
const DefaultDatabasePrefix = "neofast_"

// Topology はスキーマ種別間の依存関係とマイグレーションロケーションを保持する。
// 生成後は変更されないため、複数のゴルーチンから共有できる。
type Topology struct {
	dependencies map[SchemaType][]SchemaType
	locations    map[SchemaType]string
}

// NewTopology は依存テーブルとロケーションテーブルからTopologyを生成する。
// すべての既知の種別が両方のテーブルに存在しなければならない。
func NewTopology(dependencies map[SchemaType][]SchemaType, locations map[SchemaType]string) (*Topology, error) {
	t := &Topology{
		dependencies: make(map[SchemaType][]SchemaType, len(dependencies)),
		locations:    make(map[SchemaType]string, len(locations)),
	}

	for _, st := range SchemaTypes() {
		deps, ok := dependencies[st]
		if !ok {
			return nil, fmt.Errorf("%w: no dependency entry for %s", ErrInvalidTopology, st)
		}
		loc, ok := locations[st]
		if !ok || strings.TrimSpace(loc) == "" {
			return nil, fmt.Errorf("%w: no migration location for %s", ErrInvalidTopology, st)
		}
		for _, d := range deps {
			if _, ok := d.CanonicalName(); !ok {
				return nil, fmt.Errorf("%w: %s depends on %s which has no canonical schema", ErrInvalidTopology, st, d)
			}
		}
		t.dependencies[st] = append([]SchemaType(nil), deps...)
		t.locations[st] = loc
	}

	for st := range dependencies {
		if _, ok := t.dependencies[st]; !ok {
			return nil, fmt.Errorf("%w: unexpected schema type %s", ErrInvalidTopology, st)
		}
	}
	for st := range locations {
		if _, ok := t.locations[st]; !ok {
			return nil, fmt.Errorf("%w: unexpected schema type %s", ErrInvalidTopology, st)
		}
	}

	return t, nil
}

// DefaultTopology は標準の依存関係とロケーションを返す。
func DefaultTopology() *Topology {
	t, err := NewTopology(
		map[SchemaType][]SchemaType{
			SchemaTypePlatformCommon: {},
			SchemaTypeAdmin:          {SchemaTypePlatformCommon},
			SchemaTypeTenantTemplate: {SchemaTypePlatformCommon},
			SchemaTypeAnalytics:      {SchemaTypePlatformCommon},
			SchemaTypeTenantSpecific: {SchemaTypePlatformCommon, SchemaTypeTenantTemplate},
		},
		map[SchemaType]string{
			SchemaTypePlatformCommon: "platform",
			SchemaTypeAdmin:          "admin",
			SchemaTypeTenantTemplate: "regional/shared",
			SchemaTypeAnalytics:      "regional/analytics",
			SchemaTypeTenantSpecific: "regional/shared",
		},
	)
	if err != nil {
		panic(err)
	}
	return t
}

// DependenciesOf は種別の依存先を宣言順に返す。
func (t *Topology) DependenciesOf(st SchemaType) []SchemaType {
	return append([]SchemaType(nil), t.dependencies[st]...)
}

// LocationFor は種別のマイグレーションロケーションを返す。
// Unknown の場合は空文字を返す。
func (t *Topology) LocationFor(st SchemaType) string {
	return t.locations[st]
}
