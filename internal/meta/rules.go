package meta

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"tagrelay/internal/resolver"
)

// bucketDocument is the per-bucket shape of a rule document entry. Pointers distinguish a missing
// field from a zero value.
type bucketDocument struct {
	Range []int `yaml:"range"`
	Start *int  `yaml:"start"`
}

// ParseRules parses a rule document from a file specified as a path on disk:
//
//	{"ip_pool": [...], "bucket_size": 5, "rules": {"morning": {"range": [6, 11], "start": 0}}}
//
// Buckets are returned in the order they are declared in the document. Structural problems are
// reported as resolver.ConfigurationError.
func ParseRules(path string) (resolver.RuleSet, resolver.Pool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return resolver.RuleSet{}, nil, fmt.Errorf("rules: error reading rules: %w", err)
	}

	return parseRules(data)
}

func parseRules(data []byte) (resolver.RuleSet, resolver.Pool, error) {
	var (
		doc   yaml.Node
		rules resolver.RuleSet
		pool  resolver.Pool
	)

	if err := yaml.Unmarshal(data, &doc); err != nil {
		return rules, nil, fmt.Errorf("rules: error parsing rules: %w", err)
	}

	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return rules, nil, &resolver.ConfigurationError{Reason: "rule document is not a mapping"}
	}

	var rulesNode *yaml.Node
	root := doc.Content[0]

	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i].Value, root.Content[i+1]

		switch key {
		case "ip_pool":
			if err := value.Decode(&pool); err != nil {
				return rules, nil, fmt.Errorf("rules: invalid ip_pool: %w", err)
			}
		case "bucket_size":
			if err := value.Decode(&rules.BucketSize); err != nil {
				return rules, nil, fmt.Errorf("rules: invalid bucket_size: %w", err)
			}
		case "rules":
			rulesNode = value
		}
	}

	if pool == nil {
		return rules, nil, &resolver.ConfigurationError{Reason: "missing ip_pool"}
	}

	if rulesNode == nil {
		return rules, nil, &resolver.ConfigurationError{Reason: "missing rules"}
	}

	if rulesNode.Kind != yaml.MappingNode {
		return rules, nil, &resolver.ConfigurationError{Reason: "rules is not a mapping"}
	}

	for i := 0; i+1 < len(rulesNode.Content); i += 2 {
		name := rulesNode.Content[i].Value

		var bucket bucketDocument
		if err := rulesNode.Content[i+1].Decode(&bucket); err != nil {
			return rules, nil, &resolver.ConfigurationError{Bucket: name, Reason: err.Error()}
		}

		if len(bucket.Range) != 2 {
			return rules, nil, &resolver.ConfigurationError{Bucket: name, Reason: "range must be [lo, hi]"}
		}

		if bucket.Start == nil {
			return rules, nil, &resolver.ConfigurationError{Bucket: name, Reason: "missing start"}
		}

		rules.Buckets = append(rules.Buckets, resolver.Bucket{
			Name:  name,
			Low:   bucket.Range[0],
			High:  bucket.Range[1],
			Start: *bucket.Start,
		})
	}

	return rules, pool, nil
}

// LoadEngine parses a rule document and builds a validated resolution engine from it.
func LoadEngine(path string) (*resolver.Engine, error) {
	rules, pool, err := ParseRules(path)
	if err != nil {
		return nil, err
	}

	return resolver.NewEngine(rules, pool)
}
