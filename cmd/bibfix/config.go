package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/matsen/bibfix/internal/config"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Get or set configuration values",
	Long: `Get or set configuration values.

Usage:
  bibfix config                      # Show all config
  bibfix config s2-api-key           # Get specific value
  bibfix config s2-api-key KEY       # Set Semantic Scholar API key
  bibfix config similarity 0.8       # Set the title similarity gate
  bibfix config delay 2s             # Set the pause between records
  bibfix config cache-ttl 72h        # Set the lookup cache lifetime
  bibfix config cache-disabled true  # Turn the lookup cache off

Keys:
  s2-api-key      Semantic Scholar API key
  similarity      Title similarity gate in [0,1]
  delay           Pause between records (duration, e.g. 1s)
  cache-ttl       Lookup cache lifetime (duration, e.g. 168h)
  cache-disabled  Disable the lookup cache (true/false)`,
	Args: cobra.MaximumNArgs(2),
	RunE: runConfig,
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadGlobalConfig()
	if err != nil {
		exitWithError(ExitConfigError, "loading config: %v", err)
	}

	// No args: show all config
	if len(args) == 0 {
		if humanOutput {
			fmt.Printf("s2-api-key:     %s\n", cfg.S2APIKey)
			fmt.Printf("similarity:     %g\n", cfg.SimilarityOrDefault())
			fmt.Printf("delay:          %s\n", cfg.DelayOrDefault())
			fmt.Printf("cache-ttl:      %s\n", cfg.CacheTTLOrDefault())
			fmt.Printf("cache-disabled: %t\n", cfg.CacheDisabled)
		} else {
			outputJSON(ConfigResponse{
				S2APIKey:      cfg.S2APIKey,
				Similarity:    cfg.Similarity,
				Delay:         cfg.Delay,
				CacheTTL:      cfg.CacheTTL,
				CacheDisabled: cfg.CacheDisabled,
			})
		}
		return nil
	}

	key := args[0]
	normalizedKey := normalizeKey(key)

	// One arg: get specific value
	if len(args) == 1 {
		switch normalizedKey {
		case "s2-api-key":
			if humanOutput {
				fmt.Println(cfg.S2APIKey)
			} else {
				outputJSON(map[string]string{"s2_api_key": cfg.S2APIKey})
			}
		case "similarity":
			if humanOutput {
				fmt.Printf("%g\n", cfg.SimilarityOrDefault())
			} else {
				outputJSON(map[string]float64{"similarity": cfg.SimilarityOrDefault()})
			}
		case "delay":
			if humanOutput {
				fmt.Println(cfg.DelayOrDefault())
			} else {
				outputJSON(map[string]string{"delay": cfg.DelayOrDefault().String()})
			}
		case "cache-ttl":
			if humanOutput {
				fmt.Println(cfg.CacheTTLOrDefault())
			} else {
				outputJSON(map[string]string{"cache_ttl": cfg.CacheTTLOrDefault().String()})
			}
		case "cache-disabled":
			if humanOutput {
				fmt.Println(cfg.CacheDisabled)
			} else {
				outputJSON(map[string]bool{"cache_disabled": cfg.CacheDisabled})
			}
		default:
			exitWithError(ExitError, "unknown configuration key: %s", key)
		}
		return nil
	}

	// Two args: set value
	value := args[1]

	switch normalizedKey {
	case "s2-api-key":
		cfg.S2APIKey = value

	case "similarity":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			exitWithError(ExitConfigError, "similarity must be a number: %s", value)
		}
		if err := config.ValidateSimilarity(f); err != nil {
			exitWithError(ExitConfigError, "%v", err)
		}
		cfg.Similarity = f

	case "delay":
		if err := config.ValidateDuration(value); err != nil {
			exitWithError(ExitConfigError, "%v", err)
		}
		cfg.Delay = value

	case "cache-ttl":
		if err := config.ValidateDuration(value); err != nil {
			exitWithError(ExitConfigError, "%v", err)
		}
		cfg.CacheTTL = value

	case "cache-disabled":
		b, err := strconv.ParseBool(value)
		if err != nil {
			exitWithError(ExitConfigError, "cache-disabled must be true or false: %s", value)
		}
		cfg.CacheDisabled = b

	default:
		exitWithError(ExitError, "unknown configuration key: %s", key)
	}

	if err := config.SaveGlobalConfig(cfg); err != nil {
		exitWithError(ExitError, "saving config: %v", err)
	}

	if humanOutput {
		fmt.Printf("Updated %s to %s\n", key, value)
	} else {
		outputJSON(UpdateResponse{
			Status: "updated",
			Key:    normalizedKey,
			Value:  value,
		})
	}

	return nil
}

// normalizeKey converts key formats (s2-api-key, s2_api_key) to consistent format
func normalizeKey(key string) string {
	key = strings.ToLower(key)
	key = strings.ReplaceAll(key, "_", "-")
	return key
}
