package ops

import (
	"context"
	"database/sql"
	"log"
	"path/filepath"

	"github.com/hpungsan/sift/internal/config"
	"github.com/hpungsan/sift/internal/db"
	"github.com/hpungsan/sift/internal/errors"
	"github.com/hpungsan/sift/internal/hub"
	"github.com/hpungsan/sift/internal/models"
)

// ListModelsOutput contains the installed models.
type ListModelsOutput struct {
	Models []models.Model `json:"models"`
	Active string         `json:"active,omitempty"` // filename of the loaded model
}

// ListModels lists installed model files with their friendly names.
func ListModels(database *sql.DB, cfg *config.Config, activePath string) (*ListModelsOutput, error) {
	names, err := db.ListModelNames(database)
	if err != nil {
		return nil, err
	}

	list, err := models.List(cfg.ModelsDir, names, activePath)
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	output := &ListModelsOutput{Models: list}
	for _, m := range list {
		if m.Active {
			output.Active = m.Filename
		}
	}
	return output, nil
}

// LookupModelsInput contains parameters for the LookupModels operation.
type LookupModelsInput struct {
	RepoID string `json:"repo_id"`
}

// LookupModelsOutput lists the GGUF files a repository offers.
type LookupModelsOutput struct {
	RepoID string           `json:"repo_id"`
	Files  []hub.RemoteFile `json:"files"`
}

// LookupModels lists the downloadable GGUF files of a hub repository.
func LookupModels(ctx context.Context, h Hub, input LookupModelsInput) (*LookupModelsOutput, error) {
	if err := hub.ValidateRepoID(input.RepoID); err != nil {
		return nil, err
	}
	files, err := h.ListGGUFFiles(ctx, input.RepoID)
	if err != nil {
		return nil, err
	}
	return &LookupModelsOutput{RepoID: input.RepoID, Files: files}, nil
}

// ModelCardInput contains parameters for the ModelCard operation.
type ModelCardInput struct {
	RepoID string `json:"repo_id"`
}

// ModelCardOutput holds a repository README as markdown.
type ModelCardOutput struct {
	RepoID   string         `json:"repo_id"`
	Markdown string         `json:"markdown"`
	Metadata map[string]any `json:"metadata,omitempty"` // YAML front matter
}

// ModelCard fetches the README of a hub repository.
func ModelCard(ctx context.Context, h Hub, input ModelCardInput) (*ModelCardOutput, error) {
	if err := hub.ValidateRepoID(input.RepoID); err != nil {
		return nil, err
	}
	md, err := h.FetchReadme(ctx, input.RepoID)
	if err != nil {
		return nil, err
	}
	return &ModelCardOutput{
		RepoID:   input.RepoID,
		Markdown: md,
		Metadata: hub.ParseCard(md).Metadata,
	}, nil
}

// SwitchModelInput contains parameters for the SwitchModel operation.
type SwitchModelInput struct {
	Filename string `json:"filename"`
}

// SwitchModelOutput reports the newly loaded model.
type SwitchModelOutput struct {
	Status string `json:"status"`
	Model  string `json:"model"`
	Path   string `json:"path"`
}

// SwitchModel loads an installed model file into the engine.
func SwitchModel(ctx context.Context, eng Engine, cfg *config.Config, input SwitchModelInput) (*SwitchModelOutput, error) {
	if !eng.CanSwap() {
		return nil, errors.NewConflict("model switching is disabled: backend.command is not configured")
	}

	path, err := models.Resolve(cfg.ModelsDir, input.Filename)
	if err != nil {
		return nil, err
	}

	log.Printf("switching model to %s", input.Filename)
	if err := eng.LoadModel(ctx, path); err != nil {
		return nil, errors.NewBackendUnavailable(err)
	}

	return &SwitchModelOutput{
		Status: "success",
		Model:  filepath.Base(path),
		Path:   path,
	}, nil
}

// RenameModelInput contains parameters for the RenameModel operation.
type RenameModelInput struct {
	Filename     string `json:"filename"`
	FriendlyName string `json:"friendly_name"`
}

// RenameModelOutput echoes the stored name.
type RenameModelOutput struct {
	Filename     string `json:"filename"`
	FriendlyName string `json:"friendly_name"`
}

// RenameModel sets the display name of an installed model file.
func RenameModel(database *sql.DB, cfg *config.Config, input RenameModelInput) (*RenameModelOutput, error) {
	if _, err := models.Resolve(cfg.ModelsDir, input.Filename); err != nil {
		return nil, err
	}
	name := models.CleanFriendlyName(input.FriendlyName)
	if name == "" {
		return nil, errors.NewInvalidRequest("friendly_name is required")
	}

	if err := db.SetFriendlyName(database, input.Filename, name); err != nil {
		return nil, err
	}
	return &RenameModelOutput{Filename: input.Filename, FriendlyName: name}, nil
}
