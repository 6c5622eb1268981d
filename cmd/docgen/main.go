// Command docgen builds the sponsor API reference from the @Title, @Route,
// @Description and @Response comments on the handlers in internal/api.
// The output is AsciiDoc, embedded by internal/docs and served at
// /api/docs?name=api.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

type Endpoint struct {
	Title       string
	Route       string
	Description string
	Response    string
}

var (
	reTitle = regexp.MustCompile(`// @Title: (.*)`)
	reRoute = regexp.MustCompile(`// @Route: (.*)`)
	reDesc  = regexp.MustCompile(`// @Description: (.*)`)
	reResp  = regexp.MustCompile(`// @Response: (.*)`)
)

func main() {
	var apiDir, out string
	flag.StringVar(&apiDir, "dir", "internal/api", "Package holding the annotated handlers")
	flag.StringVar(&out, "out", "internal/docs/content/api.adoc", "AsciiDoc file to write")
	flag.Parse()

	files, err := os.ReadDir(apiDir)
	if err != nil {
		log.Fatalf("read %s: %v", apiDir, err)
	}

	var endpoints []Endpoint
	for _, file := range files {
		name := file.Name()
		if !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		f, err := os.Open(filepath.Join(apiDir, name))
		if err != nil {
			log.Fatalf("open %s: %v", name, err)
		}
		eps, err := parseEndpoints(f)
		f.Close()
		if err != nil {
			log.Fatalf("parse %s: %v", name, err)
		}
		endpoints = append(endpoints, eps...)
	}

	if err := os.WriteFile(out, []byte(renderAsciiDoc(endpoints)), 0o644); err != nil {
		log.Fatalf("write %s: %v", out, err)
	}
	fmt.Printf("Generated %s (%d endpoints)\n", out, len(endpoints))
}

// parseEndpoints collects annotation blocks; @Response closes a block.
func parseEndpoints(r io.Reader) ([]Endpoint, error) {
	var (
		endpoints []Endpoint
		current   Endpoint
	)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if m := reTitle.FindStringSubmatch(line); len(m) > 1 {
			current.Title = strings.TrimSpace(m[1])
		}
		if m := reRoute.FindStringSubmatch(line); len(m) > 1 {
			current.Route = strings.TrimSpace(m[1])
		}
		if m := reDesc.FindStringSubmatch(line); len(m) > 1 {
			current.Description = strings.TrimSpace(m[1])
		}
		if m := reResp.FindStringSubmatch(line); len(m) > 1 {
			current.Response = strings.TrimSpace(m[1])
			if current.Title != "" && current.Route != "" {
				endpoints = append(endpoints, current)
			}
			current = Endpoint{}
		}
	}
	return endpoints, scanner.Err()
}

func renderAsciiDoc(endpoints []Endpoint) string {
	var b strings.Builder
	b.WriteString("= Sponsor API\n\n")
	b.WriteString("Generated by `docgen` from the handler annotations in `internal/api`.\n")
	b.WriteString("Contract rejects answer HTTP 422 with `{\"error\": \"<Name>\", \"code\": <code>}`.\n")
	b.WriteString("Endpoints that need the operator token expect `Authorization: Bearer <operator_token>`.\n")

	for _, ep := range endpoints {
		fmt.Fprintf(&b, "\n== %s\n\n", ep.Title)
		fmt.Fprintf(&b, "`%s`\n\n", ep.Route)
		if ep.Description != "" {
			fmt.Fprintf(&b, "%s.\n\n", strings.TrimSuffix(ep.Description, "."))
		}
		if strings.HasPrefix(ep.Response, "{") || strings.HasPrefix(ep.Response, "[") {
			fmt.Fprintf(&b, ".Response\n[source,json]\n----\n%s\n----\n", ep.Response)
		} else {
			fmt.Fprintf(&b, "Response: %s.\n", ep.Response)
		}
	}
	return b.String()
}
