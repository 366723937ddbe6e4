// Copyright (C) 2025 Forgeworks (oss@forgeworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stacks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func pythonHandler() *Handler {
	return &Handler{
		Name:        "python",
		TestCommand: []string{"pytest", "-q"},
		TestTypes:   []string{"pytest"},
		ExpectedArtifacts: []string{
			"main.py",
			"requirements.txt",
		},
		Skeleton: pythonSkeleton,
		Install:  pythonInstall,
	}
}

func pythonSkeleton(codePath, projectName string) error {
	pkg := projectName
	if pkg == "" {
		pkg = "src"
	}
	if err := makeDirs(codePath, []string{pkg, "tests", "docs"}); err != nil {
		return err
	}

	display := projectName
	if display == "" {
		display = "python-project"
	}

	files := map[string]string{
		"requirements.txt": `# Core dependencies
fastapi==0.104.1
uvicorn==0.24.0
pydantic==2.5.0

# Dev
pytest==7.4.3
black==23.12.1
mypy==1.8.0
flake8==6.1.0
`,
		"setup.py": fmt.Sprintf(`from setuptools import setup, find_packages

setup(
    name='%s',
    version='0.1.0',
    packages=find_packages(),
    install_requires=['fastapi', 'uvicorn', 'pydantic'],
    python_requires='>=3.8',
)
`, display),
		pkg + "/__init__.py": "",
		pkg + "/main.py": fmt.Sprintf(`from fastapi import FastAPI

app = FastAPI(title='%s')


@app.get('/')
async def root():
    return {'message': 'Hello World'}


if __name__ == '__main__':
    import uvicorn
    uvicorn.run(app, host='0.0.0.0', port=8000)
`, display),
		"tests/__init__.py": "",
		"tests/test_main.py": fmt.Sprintf(`from fastapi.testclient import TestClient
from %s.main import app

client = TestClient(app)


def test_read_main():
    r = client.get('/')
    assert r.status_code == 200
    assert r.json() == {'message': 'Hello World'}
`, pkg),
	}
	return writeFiles(codePath, files)
}

func pythonInstall(ctx context.Context, run Runner, codePath string) error {
	if _, err := os.Stat(filepath.Join(codePath, "requirements.txt")); err != nil {
		// Nothing to install; not an error.
		return nil
	}
	res, err := run(ctx, codePath, []string{"pip", "install", "-r", "requirements.txt"})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("pip install failed: %s", strings.TrimSpace(res.Stderr))
	}
	return nil
}
