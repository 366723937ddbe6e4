// Copyright (C) 2025 Forgeworks (oss@forgeworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stacks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	reCamelBoundary   = regexp.MustCompile(`([a-z0-9])([A-Z])`)
	reComposerIllegal = regexp.MustCompile(`[^a-z0-9._/-]+`)
	reDashRuns        = regexp.MustCompile(`-+`)
	reLeadingJunk     = regexp.MustCompile(`^[^a-z0-9]+`)
	reTrailingJunk    = regexp.MustCompile(`[^a-z0-9]+$`)
	reComposerName    = regexp.MustCompile(`^[a-z0-9]([_.-]?[a-z0-9]+)*/[a-z0-9](([_.]|-{1,2})?[a-z0-9]+)*$`)
)

// SanitizeComposerName coerces an arbitrary project name into a valid
// Composer vendor/project identifier. Models routinely emit camel case
// or spaced names that composer rejects outright.
func SanitizeComposerName(name string) string {
	if name == "" {
		return "default/project"
	}

	sanitized := reCamelBoundary.ReplaceAllString(name, "$1-$2")
	sanitized = strings.ToLower(strings.ReplaceAll(sanitized, " ", "-"))
	sanitized = reComposerIllegal.ReplaceAllString(sanitized, "-")
	sanitized = reDashRuns.ReplaceAllString(sanitized, "-")

	vendor, project, found := strings.Cut(sanitized, "/")
	if !found {
		vendor, project = "default", sanitized
	}
	vendor = reTrailingJunk.ReplaceAllString(reLeadingJunk.ReplaceAllString(vendor, ""), "")
	project = reTrailingJunk.ReplaceAllString(reLeadingJunk.ReplaceAllString(project, ""), "")
	if vendor == "" {
		vendor = "default"
	}
	if project == "" {
		project = "project"
	}

	normalized := vendor + "/" + project
	if reComposerName.MatchString(normalized) {
		return normalized
	}
	return "default/project"
}

func laravelHandler() *Handler {
	return &Handler{
		Name:        "laravel",
		TestCommand: []string{"vendor/bin/pest", "-q"},
		TestTypes:   []string{"pest", "phpstan", "pint"},
		ExpectedArtifacts: []string{
			"composer.json",
			"app",
			"routes",
			"database",
		},
		Skeleton: laravelSkeleton,
		Install:  laravelInstall,
	}
}

func laravelSkeleton(codePath, projectName string) error {
	dirs := []string{
		"app/Http/Controllers",
		"app/Models",
		"app/Http/Requests",
		"app/Http/Middleware",
		"routes",
		"database/migrations",
		"database/seeders",
		"tests/Feature",
		"tests/Unit",
		"config",
		"resources/views",
		"public",
	}
	if err := makeDirs(codePath, dirs); err != nil {
		return err
	}

	if projectName == "" {
		projectName = "project"
	}

	files := map[string]string{
		"routes/web.php": `<?php

use Illuminate\Support\Facades\Route;

Route::get('/', function () {
    return view('welcome');
});
`,
		"routes/api.php": `<?php

use Illuminate\Http\Request;
use Illuminate\Support\Facades\Route;

Route::middleware('auth:sanctum')->get('/user', function (Request $request) {
    return $request->user();
});
`,
		"composer.json": fmt.Sprintf(`{
    "name": "laravel/%s",
    "type": "project",
    "description": "The Laravel Framework.",
    "keywords": ["framework", "laravel"],
    "license": "MIT",
    "require": {
        "php": "^8.1",
        "laravel/framework": "^10.0"
    },
    "require-dev": {
        "pestphp/pest": "^2.0",
        "phpstan/phpstan": "^1.0",
        "laravel/pint": "^1.0"
    },
    "autoload": {
        "psr-4": {
            "App\\": "app/",
            "Database\\Factories\\": "database/factories/",
            "Database\\Seeders\\": "database/seeders/"
        }
    },
    "scripts": {
        "test": "pest",
        "analyse": "phpstan analyse",
        "format": "pint"
    }
}`, projectName),
		".env": `APP_NAME=Laravel
APP_ENV=local
APP_KEY=
APP_DEBUG=true
APP_URL=http://localhost

DB_CONNECTION=sqlite
DB_DATABASE=database/database.sqlite
`,
		"phpunit.xml": `<?xml version="1.0" encoding="UTF-8"?>
<phpunit xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance"
         xsi:noNamespaceSchemaLocation="./vendor/phpunit/phpunit/phpunit.xsd"
         bootstrap="vendor/autoload.php"
         colors="true">
    <testsuites>
        <testsuite name="Unit">
            <directory suffix="Test.php">./tests/Unit</directory>
        </testsuite>
        <testsuite name="Feature">
            <directory suffix="Test.php">./tests/Feature</directory>
        </testsuite>
    </testsuites>
</phpunit>`,
	}
	return writeFiles(codePath, files)
}

// laravelInstall sanitizes composer.json's package name, then runs
// composer install plus the dev tooling the test matrix expects.
// Installation problems are non-fatal; test runs surface them.
func laravelInstall(ctx context.Context, run Runner, codePath string) error {
	composerFile := filepath.Join(codePath, "composer.json")
	if raw, err := os.ReadFile(composerFile); err == nil {
		var data map[string]any
		if err := json.Unmarshal(raw, &data); err == nil {
			original, _ := data["name"].(string)
			if corrected := SanitizeComposerName(original); corrected != original {
				data["name"] = corrected
				if out, err := json.MarshalIndent(data, "", "  "); err == nil {
					_ = os.WriteFile(composerFile, out, 0o644)
				}
			}
		}
	}

	if res, err := run(ctx, codePath, []string{"composer", "install"}); err != nil {
		return err
	} else if res.ExitCode != 0 {
		return fmt.Errorf("composer install failed: %s", strings.TrimSpace(res.Stderr))
	}

	// Dev deps are idempotent; a failure here only degrades the test
	// matrix.
	_, _ = run(ctx, codePath, []string{"composer", "require", "--dev", "phpstan/phpstan", "laravel/pint", "pestphp/pest"})
	return nil
}
