package engine

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/formfill/orchestrator/internal/domain"
)

// defaultValues is the flat key set the worker reads from its --data
// file. Key names are an external contract; optional fields serialize
// as empty strings, never null or absent.
type defaultValues struct {
	Message    string `yaml:"message"`
	Email      string `yaml:"email"`
	Phone      string `yaml:"phone"`
	FirstName  string `yaml:"first_name"`
	LastName   string `yaml:"last_name"`
	Name       string `yaml:"name"`
	Department string `yaml:"department"`
	Website    string `yaml:"website"`
	Address    string `yaml:"address"`
	PostalCode string `yaml:"postal_code"`
}

type defaultsDoc struct {
	Defaults defaultValues `yaml:"defaults"`
}

// BuildDefaults materializes a run request into the worker's default
// field values. Name joins last and first name with a single space.
func BuildDefaults(req domain.RunCreateRequest) map[string]string {
	p := req.Profile
	return map[string]string{
		"message":     req.Template.Body,
		"email":       p.Email,
		"phone":       p.Phone,
		"first_name":  p.FirstName,
		"last_name":   p.LastName,
		"name":        p.LastName + " " + p.FirstName,
		"department":  p.Department,
		"website":     p.Website,
		"address":     p.Address,
		"postal_code": p.PostalCode,
	}
}

// WriteDefaults serializes the defaults document to path as YAML
func WriteDefaults(path string, req domain.RunCreateRequest) error {
	p := req.Profile
	doc := defaultsDoc{Defaults: defaultValues{
		Message:    req.Template.Body,
		Email:      p.Email,
		Phone:      p.Phone,
		FirstName:  p.FirstName,
		LastName:   p.LastName,
		Name:       p.LastName + " " + p.FirstName,
		Department: p.Department,
		Website:    p.Website,
		Address:    p.Address,
		PostalCode: p.PostalCode,
	}}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding defaults: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
