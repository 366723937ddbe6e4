// Copyright (C) 2025 Forgeworks (oss@forgeworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stacks

import "fmt"

func nodeHandler() *Handler {
	return &Handler{
		Name:        "node",
		TestCommand: []string{"npm", "test", "--", "--watchAll=false"},
		TestTypes:   []string{"jest", "eslint"},
		ExpectedArtifacts: []string{
			"package.json",
			"index.js",
		},
		Skeleton: nodeSkeleton,
		Install:  npmInstall,
	}
}

func nodeSkeleton(codePath, projectName string) error {
	if err := makeDirs(codePath, []string{"src", "tests", "docs"}); err != nil {
		return err
	}

	if projectName == "" {
		projectName = "node-project"
	}

	files := map[string]string{
		"package.json": fmt.Sprintf(`{
  "name": "%s",
  "version": "1.0.0",
  "main": "src/index.js",
  "scripts": {
    "start": "node src/index.js",
    "dev": "nodemon src/index.js",
    "test": "jest",
    "lint": "eslint src/"
  },
  "dependencies": {
    "express": "^4.18.0"
  },
  "devDependencies": {
    "jest": "^29.0.0",
    "nodemon": "^3.0.0",
    "eslint": "^8.0.0",
    "supertest": "^7.0.0"
  }
}`, projectName),
		"src/index.js": fmt.Sprintf(`const express = require('express');
const app = express();
const port = process.env.PORT || 3000;
app.use(express.json());
app.get('/', (req, res) => { res.json({ message: 'Hello World from %s!' }); });
app.listen(port, () => { console.log(`+"`"+`Server running on port ${port}`+"`"+`); });
module.exports = app;
`, projectName),
		"tests/index.test.js": `const request = require('supertest');
const app = require('../src/index');
describe('GET /', () => {
  it('returns Hello World', async () => {
    const res = await request(app).get('/');
    expect(res.status).toBe(200);
    expect(res.body.message).toContain('Hello World');
  });
});
`,
	}
	return writeFiles(codePath, files)
}
