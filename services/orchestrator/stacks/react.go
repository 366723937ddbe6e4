// Copyright (C) 2025 Forgeworks (oss@forgeworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stacks

import "fmt"

func reactHandler() *Handler {
	return &Handler{
		Name:        "react",
		TestCommand: []string{"npm", "test", "--", "--watchAll=false"},
		TestTypes:   []string{"jest", "eslint"},
		ExpectedArtifacts: []string{
			"package.json",
			"src",
			"public",
		},
		Skeleton: reactSkeleton,
		Install:  npmInstall,
	}
}

func reactSkeleton(codePath, projectName string) error {
	dirs := []string{
		"src/components",
		"src/hooks",
		"src/utils",
		"src/pages",
		"src/styles",
		"public",
		"tests",
	}
	if err := makeDirs(codePath, dirs); err != nil {
		return err
	}

	if projectName == "" {
		projectName = "react-project"
	}

	files := map[string]string{
		"package.json": fmt.Sprintf(`{
  "name": "%s",
  "version": "0.1.0",
  "private": true,
  "dependencies": {
    "react": "^18.0.0",
    "react-dom": "^18.0.0",
    "react-scripts": "5.0.1"
  },
  "scripts": {
    "start": "react-scripts start",
    "build": "react-scripts build",
    "test": "react-scripts test",
    "eject": "react-scripts eject",
    "lint": "eslint src/"
  },
  "devDependencies": {
    "@testing-library/jest-dom": "^5.0.0",
    "@testing-library/react": "^13.0.0",
    "@testing-library/user-event": "^13.0.0",
    "eslint": "^8.0.0"
  }
}`, projectName),
		"src/App.js": `import React from 'react';
import './App.css';

function App() {
  return (
    <div className="App">
      <header className="App-header">
        <h1>Welcome to React</h1>
        <p>
          Edit <code>src/App.js</code> and save to reload.
        </p>
      </header>
    </div>
  );
}
export default App;
`,
		"src/index.js": `import React from 'react';
import ReactDOM from 'react-dom/client';
import './index.css';
import App from './App';

const root = ReactDOM.createRoot(document.getElementById('root'));
root.render(
  <React.StrictMode>
    <App />
  </React.StrictMode>
);
`,
		"public/index.html": fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
  <head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <title>%s</title>
  </head>
  <body>
    <noscript>You need to enable JavaScript to run this app.</noscript>
    <div id="root"></div>
  </body>
</html>`, projectName),
	}
	return writeFiles(codePath, files)
}
