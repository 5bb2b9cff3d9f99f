package main

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"github.com/nxsql/sqldest/internal/sqldest"
)

// logRecord is the concrete Message type this standalone binary feeds
// into the worker: a flat string map, the simplest stand-in for a
// parsed log line's name-value pairs. sqldest.Message is intentionally
// `any` (see template.go) — the package never looks inside it.
type logRecord map[string]string

// goTemplate adapts Go's text/template to sqldest.Template. Table and
// field templates both receive the record's fields plus SEQNUM and NOW
// (rendered in whichever of the two configured zones the call site
// asked for), the host-side equivalent of the template engine spec.md
// treats as an external collaborator.
type goTemplate struct {
	tmpl    *template.Template
	localTZ *time.Location
	sendTZ  *time.Location
}

func newGoTemplate(name, text string, localTZ, sendTZ *time.Location) (*goTemplate, error) {
	t, err := template.New(name).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("sqldestd: parsing template %q: %w", name, err)
	}
	if localTZ == nil {
		localTZ = time.Local
	}
	if sendTZ == nil {
		sendTZ = time.UTC
	}
	return &goTemplate{tmpl: t, localTZ: localTZ, sendTZ: sendTZ}, nil
}

func (g *goTemplate) Render(msg sqldest.Message, tz sqldest.TimeZone, seqNum int64) (string, error) {
	rec, _ := msg.(logRecord)
	loc := g.localTZ
	if tz == sqldest.TimeZoneSend {
		loc = g.sendTZ
	}
	data := make(map[string]string, len(rec)+2)
	for k, v := range rec {
		data[k] = v
	}
	data["SEQNUM"] = fmt.Sprintf("%d", seqNum)
	data["NOW"] = time.Now().In(loc).Format(time.RFC3339)

	var buf bytes.Buffer
	if err := g.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("sqldestd: rendering template: %w", err)
	}
	return buf.String(), nil
}

// buildRenderers compiles the table-name template and one template per
// non-default field into the WorkerTemplates NewWorker expects.
func buildRenderers(tableTemplate string, valueTemplates map[string]string, localTZ, sendTZ *time.Location) (sqldest.WorkerTemplates, error) {
	table, err := newGoTemplate("table", tableTemplate, localTZ, sendTZ)
	if err != nil {
		return sqldest.WorkerTemplates{}, err
	}
	fields := make(map[string]sqldest.Template, len(valueTemplates))
	for name, text := range valueTemplates {
		t, err := newGoTemplate("field."+name, text, localTZ, sendTZ)
		if err != nil {
			return sqldest.WorkerTemplates{}, err
		}
		fields[name] = t
	}
	return sqldest.WorkerTemplates{Table: table, Fields: fields}, nil
}
