// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
)

var config Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		path := configPath
		loaded, err := LoadConfig(path)
		if err != nil {
			if os.IsNotExist(err) && path == defaultConfigPath {
				// No config file is fine; everything has a default.
				config = DefaultConfig()
				return
			}
			log.Fatalf("Error loading %s: %v", path, err)
		}
		config = loaded
	}
}
