package config

import (
	"os"
	"sync"

	grafana_re "github.com/grafana/regexp"
	"github.com/metrico/chartql/reader/model"
	"github.com/pkg/errors"
	"gopkg.in/go-playground/validator.v9"
	"gopkg.in/yaml.v2"
)

type sourcesFile struct {
	Sources []model.Source `yaml:"sources" validate:"dive"`
}

var granularityRe = grafana_re.MustCompile(`^\d+ (second|minute|hour|day)s?$`)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterValidation("granularity", func(fl validator.FieldLevel) bool {
			return granularityRe.MatchString(fl.Field().String())
		})
	})
	return validate
}

// ParseSources decodes and validates a sources document.
func ParseSources(data []byte) ([]model.Source, error) {
	var f sourcesFile
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return nil, errors.Wrap(err, "invalid sources file")
	}
	if err := getValidator().Struct(&f); err != nil {
		return nil, errors.Wrap(err, "invalid sources file")
	}
	names := map[string]bool{}
	for _, s := range f.Sources {
		if names[s.Name] {
			return nil, errors.Errorf("duplicate source name %q", s.Name)
		}
		names[s.Name] = true
		for _, mv := range s.MaterializedViews {
			if err := getValidator().Var(mv.MinGranularity, "granularity"); err != nil {
				return nil, errors.Errorf("source %q: invalid minGranularity %q for %s",
					s.Name, mv.MinGranularity, mv.TableName)
			}
		}
	}
	return f.Sources, nil
}

// LoadSources reads the sources file at path. An empty path yields no sources.
func LoadSources(path string) ([]model.Source, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read %s", path)
	}
	return ParseSources(data)
}
