package workspace

import "encoding/json"

// externalSchema is the subset of a devcontainer-style JSON document this
// importer understands (spec §4.5 "External-schema import").
type externalSchema struct {
	Image             string `json:"image"`
	Name              string `json:"name"`
	WorkspaceFolder   string `json:"workspaceFolder"`
	ForwardPorts      []int  `json:"forwardPorts"`
	PostCreateCommand string `json:"postCreateCommand"`
	PostStartCommand  string `json:"postStartCommand"`
	Customizations    struct {
		VSCode struct {
			Extensions []string `json:"extensions"`
		} `json:"vscode"`
	} `json:"customizations"`
}

func parseExternalSchema(data []byte) (externalSchema, error) {
	var s externalSchema
	if err := json.Unmarshal(data, &s); err != nil {
		return externalSchema{}, err
	}
	return s, nil
}

// templateName heuristically maps the schema's image string to an internal
// template name by case-insensitive substring match, defaulting to python
// when nothing recognizable is found.
func (s externalSchema) templateName() string {
	return templateFromImage(s.Image)
}

// customCommands extracts postCreateCommand/postStartCommand, in that
// order, as the workspace's custom startup commands.
func (s externalSchema) customCommands() []string {
	var out []string
	if s.PostCreateCommand != "" {
		out = append(out, s.PostCreateCommand)
	}
	if s.PostStartCommand != "" {
		out = append(out, s.PostStartCommand)
	}
	return out
}
