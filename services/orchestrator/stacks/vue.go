// Copyright (C) 2025 Forgeworks (oss@forgeworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stacks

import "fmt"

func vueHandler() *Handler {
	return &Handler{
		Name:        "vue",
		TestCommand: []string{"npm", "test", "--", "--watchAll=false"},
		TestTypes:   []string{"jest", "eslint"},
		ExpectedArtifacts: []string{
			"package.json",
			"src",
			"public",
		},
		Skeleton: vueSkeleton,
		Install:  npmInstall,
	}
}

func vueSkeleton(codePath, projectName string) error {
	dirs := []string{
		"src/components",
		"src/views",
		"src/router",
		"src/store",
		"public",
		"tests",
	}
	if err := makeDirs(codePath, dirs); err != nil {
		return err
	}

	if projectName == "" {
		projectName = "vue-project"
	}

	files := map[string]string{
		"package.json": fmt.Sprintf(`{
  "name": "%s",
  "version": "0.1.0",
  "private": true,
  "scripts": {
    "serve": "vue-cli-service serve",
    "build": "vue-cli-service build",
    "test": "vue-cli-service test:unit",
    "lint": "vue-cli-service lint"
  },
  "dependencies": {
    "vue": "^3.0.0",
    "vue-router": "^4.0.0"
  },
  "devDependencies": {
    "@vue/cli-service": "^5.0.0",
    "@vue/test-utils": "^2.0.0",
    "jest": "^29.0.0"
  }
}`, projectName),
		"src/App.vue": `<template>
  <div id="app">
    <header>
      <h1>Welcome to Vue.js</h1>
    </header>
    <main>
      <p>This is a Vue.js application.</p>
    </main>
  </div>
</template>
<script>
export default { name: 'App' }
</script>
<style>
#app {
  font-family: 'Avenir', Helvetica, Arial, sans-serif;
  text-align: center;
  color: #2c3e50;
  margin-top: 60px;
}
</style>
`,
		"src/main.js": `import { createApp } from 'vue'
import App from './App.vue'
createApp(App).mount('#app')
`,
		"public/index.html": fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
  <head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width,initial-scale=1.0">
    <title>%s</title>
  </head>
  <body>
    <noscript>
      <strong>We're sorry but this app doesn't work properly without JavaScript enabled.</strong>
    </noscript>
    <div id="app"></div>
  </body>
</html>`, projectName),
	}
	return writeFiles(codePath, files)
}
