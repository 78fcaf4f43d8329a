package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"schema-migration-service/internal/domain"
)

// TopologyFile はYAMLで記述されたスキーマトポロジーと解決オプション。
// schemas を省略した場合は既定のトポロジーを使う。
//
//	schemas:
//	  platform_common:
//	    location: platform
//	  admin:
//	    location: admin
//	    depends_on: [platform_common]
//	transitive_synthesis: true
//	schema_dependencies:
//	  tenant_beta: [tenant_alpha]
type TopologyFile struct {
	Schemas             map[string]TopologyEntry `yaml:"schemas"`
	TransitiveSynthesis bool                     `yaml:"transitive_synthesis"`
	SchemaDependencies  map[string][]string      `yaml:"schema_dependencies"`
}

// TopologyEntry は1種別分の定義。
type TopologyEntry struct {
	Location  string   `yaml:"location"`
	DependsOn []string `yaml:"depends_on"`
}

// LoadTopologyFile はトポロジーファイルを読み込む。path が空の場合は空の定義を返す。
func LoadTopologyFile(path string) (*TopologyFile, error) {
	if path == "" {
		return &TopologyFile{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading topology file: %w", err)
	}
	return ParseTopologyFile(data)
}

// ParseTopologyFile はYAMLをトポロジーファイルとして解釈する。
func ParseTopologyFile(data []byte) (*TopologyFile, error) {
	var file TopologyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidTopology, err)
	}
	return &file, nil
}

// LoadTopology はファイルからトポロジーを読み込む。path が空の場合は既定のトポロジーを返す。
func LoadTopology(path string) (*domain.Topology, error) {
	file, err := LoadTopologyFile(path)
	if err != nil {
		return nil, err
	}
	return file.Topology()
}

// ParseTopology はYAMLからトポロジーを生成する。
func ParseTopology(data []byte) (*domain.Topology, error) {
	file, err := ParseTopologyFile(data)
	if err != nil {
		return nil, err
	}
	return file.Topology()
}

// Topology は定義からトポロジーを生成する。
func (f *TopologyFile) Topology() (*domain.Topology, error) {
	if len(f.Schemas) == 0 {
		return domain.DefaultTopology(), nil
	}

	deps := make(map[domain.SchemaType][]domain.SchemaType, len(f.Schemas))
	locs := make(map[domain.SchemaType]string, len(f.Schemas))
	for name, entry := range f.Schemas {
		st, ok := domain.ParseSchemaType(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown schema type %q", domain.ErrInvalidTopology, name)
		}
		list := make([]domain.SchemaType, 0, len(entry.DependsOn))
		for _, d := range entry.DependsOn {
			dt, ok := domain.ParseSchemaType(d)
			if !ok {
				return nil, fmt.Errorf("%w: %s depends on unknown schema type %q", domain.ErrInvalidTopology, name, d)
			}
			list = append(list, dt)
		}
		deps[st] = list
		locs[st] = entry.Location
	}

	return domain.NewTopology(deps, locs)
}

// ResolverOptions は定義に含まれる解決オプションを返す。
func (f *TopologyFile) ResolverOptions() []domain.ResolverOption {
	var opts []domain.ResolverOption
	if f.TransitiveSynthesis {
		opts = append(opts, domain.WithTransitiveSynthesis())
	}

	schemas := make([]string, 0, len(f.SchemaDependencies))
	for schema := range f.SchemaDependencies {
		schemas = append(schemas, schema)
	}
	sort.Strings(schemas)
	for _, schema := range schemas {
		for _, dep := range f.SchemaDependencies[schema] {
			opts = append(opts, domain.WithSchemaDependency(schema, dep))
		}
	}
	return opts
}

// NewResolver は設定のトポロジーファイルと分類モードでResolverを生成する。
func NewResolver(cfg *Config) (*domain.Resolver, error) {
	file, err := LoadTopologyFile(cfg.TopologyFile)
	if err != nil {
		return nil, err
	}
	topology, err := file.Topology()
	if err != nil {
		return nil, err
	}

	opts := file.ResolverOptions()
	if cfg.StrictSchemas {
		opts = append(opts, domain.WithStrictClassification())
	}
	return domain.NewResolver(topology, opts...), nil
}
