package catalog

import (
	"fmt"
	"net/http"
	"os"

	"github.com/airbusgeo/minicube/interface/catalog"
	"github.com/airbusgeo/minicube/interface/catalog/bucket"
	"github.com/airbusgeo/minicube/interface/catalog/stac"
	"gopkg.in/yaml.v3"
)

// RegistryEnv overrides the registry path given to LoadRegistry
const RegistryEnv = "MINICUBE_REGISTRY"

// Registry is the yaml file declaring the catalogs serving the collections.
// Providers are tried in the order of the file (stac, then manifests, then
// buckets, then ftp).
type Registry struct {
	STAC []struct {
		Endpoint    string            `yaml:"endpoint"`
		Collections map[string]string `yaml:"collections"` // public name -> catalog id
		Username    string            `yaml:"username"`
		Password    string            `yaml:"password"`
		Token       string            `yaml:"token"`
		Limit       int               `yaml:"limit"`
	} `yaml:"stac"`
	Manifests []struct {
		Pattern     string   `yaml:"pattern"` // uri with a {COLLECTION} placeholder
		Collections []string `yaml:"collections"`
	} `yaml:"manifests"`
	Buckets []struct {
		Bucket          string   `yaml:"bucket"`
		Prefix          string   `yaml:"prefix"` // {COLLECTION} and {YEAR} placeholders
		Region          string   `yaml:"region"`
		AccessKeyID     string   `yaml:"access_key_id"`
		SecretAccessKey string   `yaml:"secret_access_key"`
		RequesterPays   bool     `yaml:"requester_pays"`
		MetadataSuffix  string   `yaml:"metadata_suffix"`
		Collections     []string `yaml:"collections"`
	} `yaml:"buckets"`
	FTP []struct {
		URL      string `yaml:"url"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
	} `yaml:"ftp"`
}

// LoadRegistry reads the registry file, the MINICUBE_REGISTRY env taking
// precedence over the path. An empty path is an empty registry.
func LoadRegistry(path string) (*Registry, error) {
	if env := os.Getenv(RegistryEnv); env != "" {
		path = env
	}
	if path == "" {
		return &Registry{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("LoadRegistry: %w", err)
	}
	reg := Registry{}
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("LoadRegistry[%s]: %w", path, err)
	}
	return &reg, nil
}

// Providers instanciates the scene providers of the registry. client
// authenticates the requests of the http providers (nil for the default
// client).
func (r *Registry) Providers(client *http.Client) []catalog.SceneProvider {
	var providers []catalog.SceneProvider
	for _, c := range r.STAC {
		providers = append(providers, &stac.Provider{
			Endpoint:    c.Endpoint,
			Collections: c.Collections,
			User:        c.Username,
			Pswd:        c.Password,
			Token:       c.Token,
			Limit:       c.Limit,
			Client:      client,
		})
	}
	for _, c := range r.Manifests {
		providers = append(providers, &bucket.ManifestProvider{
			Pattern:     c.Pattern,
			Collections: c.Collections,
		})
	}
	for _, c := range r.Buckets {
		providers = append(providers, &bucket.ObjectsProvider{
			Bucket:          c.Bucket,
			PrefixTemplate:  c.Prefix,
			Region:          c.Region,
			AccessKeyID:     c.AccessKeyID,
			SecretAccessKey: c.SecretAccessKey,
			RequesterPays:   c.RequesterPays,
			MetadataSuffix:  c.MetadataSuffix,
			Collections:     c.Collections,
		})
	}
	for _, c := range r.FTP {
		providers = append(providers, bucket.NewFTPProvider(c.URL, c.Username, c.Password))
	}
	return providers
}
