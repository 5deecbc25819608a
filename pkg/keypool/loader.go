package keypool

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"mercator-hq/charon/pkg/models"
)

// envVarForService maps each service to the environment variable that carries
// its comma-separated credentials.
var envVarForService = map[models.Service]string{
	models.ServiceOpenAI:    "OPENAI_KEY",
	models.ServiceAnthropic: "ANTHROPIC_KEY",
	models.ServiceGoogleAI:  "GOOGLE_AI_KEY",
	models.ServiceMistralAI: "MISTRAL_AI_KEY",
	models.ServiceAWS:       "AWS_CREDENTIALS",
	models.ServiceGCP:       "GCP_CREDENTIALS",
	models.ServiceAzure:     "AZURE_CREDENTIALS",
	models.ServiceDeepseek:  "DEEPSEEK_KEY",
	models.ServiceXAI:       "XAI_KEY",
	models.ServiceCohere:    "COHERE_KEY",
	models.ServiceQwen:      "QWEN_KEY",
	models.ServiceMoonshot:  "MOONSHOT_KEY",
}

// LoadFromEnv reads every service's credential env var into the pool.
// Returns the number of entries accepted, including ones whose hash was
// already in the pool.
func (p *Pool) LoadFromEnv() int {
	added := 0
	for svc, envVar := range envVarForService {
		raw := os.Getenv(envVar)
		if raw == "" {
			continue
		}
		for _, secret := range strings.Split(raw, ",") {
			secret = strings.TrimSpace(secret)
			if secret == "" {
				continue
			}
			k, err := keyFromSecret(svc, secret)
			if err != nil {
				p.logger.Warn("skipping malformed credential", "service", svc, "error", err)
				continue
			}
			p.Add(k)
			added++
		}
	}
	return added
}

// keyFromSecret builds a Key from one raw credential string. AWS, GCP and
// Azure secrets are structured; everything else is a bearer token.
func keyFromSecret(svc models.Service, secret string) (Key, error) {
	k := Key{Service: svc, Secret: secret}
	switch svc {
	case models.ServiceAWS:
		// region:accessKeyId:secretAccessKey
		parts := strings.SplitN(secret, ":", 3)
		if len(parts) != 3 {
			return Key{}, fmt.Errorf("aws credential must be region:keyId:secret")
		}
		k.Region = parts[0]
		k.AWSLoggingStatus = "unknown"
	case models.ServiceGCP:
		// project:region:clientEmail:privateKey
		parts := strings.SplitN(secret, ":", 4)
		if len(parts) != 4 {
			return Key{}, fmt.Errorf("gcp credential must be project:region:clientEmail:privateKey")
		}
		k.ProjectID = parts[0]
		k.Region = parts[1]
		k.ClientEmail = parts[2]
		k.PrivateKey = strings.ReplaceAll(parts[3], `\n`, "\n")
	case models.ServiceAzure:
		// resourceName:deploymentId:apiKey
		parts := strings.SplitN(secret, ":", 3)
		if len(parts) != 3 {
			return Key{}, fmt.Errorf("azure credential must be resource:deployment:apiKey")
		}
		k.AzureResource = parts[0]
		k.AzureDeployID = parts[1]
	}
	return k, nil
}

// keyFile is the YAML shape of a credential file.
type keyFile struct {
	Keys []keyFileEntry `yaml:"keys"`
}

type keyFileEntry struct {
	Service  string   `yaml:"service"`
	Secret   string   `yaml:"secret"`
	Families []string `yaml:"families,omitempty"`
}

// LoadFromFile reads a YAML credential file into the pool. Existing keys are
// untouched; new entries are added. Returns the number of entries accepted,
// including ones whose hash was already in the pool.
func (p *Pool) LoadFromFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read key file %q: %w", path, err)
	}
	var kf keyFile
	if err := yaml.Unmarshal(data, &kf); err != nil {
		return 0, fmt.Errorf("failed to parse key file %q: %w", path, err)
	}

	added := 0
	for i, entry := range kf.Keys {
		svc := models.Service(entry.Service)
		if _, ok := envVarForService[svc]; !ok {
			p.logger.Warn("key file entry has unknown service", "index", i, "service", entry.Service)
			continue
		}
		k, err := keyFromSecret(svc, entry.Secret)
		if err != nil {
			p.logger.Warn("skipping malformed key file entry", "index", i, "error", err)
			continue
		}
		for _, f := range entry.Families {
			k.ModelFamilies = append(k.ModelFamilies, models.Family(f))
		}
		p.Add(k)
		added++
	}
	return added, nil
}
