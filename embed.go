package chatwidget

import "embed"

// TemplateFS contains the embedded HTML templates: the page layout, the page itself, and the message
// partials the widget controller renders into the transcript.
//
//go:embed templates/*
var TemplateFS embed.FS

// StaticFS contains the embedded static assets, the script that applies DOM patches in the browser and
// the widget stylesheet.
//
//go:embed static/*
var StaticFS embed.FS
