package registry

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/venturelens/strategy-cli/internal/model"
)

// LoadQuestionsFromFile reads a YAML list of questions from the given path.
// Used for offline CLI runs; the serve path loads questions from the backend.
func LoadQuestionsFromFile(path string) ([]model.Question, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "registry: read questions fixture")
	}

	var questions []model.Question
	if err := yaml.Unmarshal(data, &questions); err != nil {
		return nil, eris.Wrap(err, "registry: unmarshal questions fixture")
	}

	return questions, nil
}
