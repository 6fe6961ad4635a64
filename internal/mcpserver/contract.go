package mcpserver

// TemplateFormatContract describes the template file format that LLM
// consumers should follow when writing templates.
const TemplateFormatContract = `# Stencil Template Format Contract

A template is a UTF-8 file with the template extension (default ` + "`" + `.tpl` + "`" + `)
under the templates directory. Its identity is its slash-separated path
relative to that directory.

## Structure

` + "```" + `
---
name: Optional display name
bind: Class                  # REQUIRED: Class | Interface | File
match: "models/**/*.go"      # OPTIONAL: glob on the project-relative item path
output: "{ClassName}.g.txt"  # REQUIRED: output path relative to the output dir
---
<text/template body>
` + "```" + `

## Rules

1. **The header comes first.** The ` + "`" + `---` + "`" + ` fences must open the file.
2. **` + "`" + `bind` + "`" + ` picks the items** a template renders once per element:
   every struct type (Class), every interface type (Interface) or every
   source file (File).
3. **Output placeholders**: ` + "`" + `{Name}` + "`" + `, ` + "`" + `{FileName}` + "`" + `, ` + "`" + `{Dir}` + "`" + `,
   ` + "`" + `{Package}` + "`" + `, ` + "`" + `{Template}` + "`" + `, plus ` + "`" + `{ClassName}` + "`" + ` (Class only) and
   ` + "`" + `{InterfaceName}` + "`" + ` (Interface only).
4. **Two items must not map to one output path**; that is a render error and
   the clashing file is skipped.
5. **Body data**: ` + "`" + `.Name` + "`" + `, ` + "`" + `.Kind` + "`" + `, ` + "`" + `.Template` + "`" + `,
   ` + "`" + `.File` + "`" + ` (Path, Package, Classes, Interfaces), ` + "`" + `.Class` + "`" + ` and
   ` + "`" + `.Interface` + "`" + ` (Name, Doc, Properties{Name, Type, Tag, Doc},
   Methods{Name, Params, Results, Doc}).
6. **Functions**: ` + "`" + `lower` + "`" + `, ` + "`" + `upper` + "`" + `, ` + "`" + `title` + "`" + `, ` + "`" + `camel` + "`" + `,
   ` + "`" + `snake` + "`" + `, ` + "`" + `join` + "`" + `, ` + "`" + `trimPrefix` + "`" + `, ` + "`" + `trimSuffix` + "`" + `.
7. **Output is deterministic.** The same project and template always render
   byte-identical files; unchanged files are not rewritten.

## Example

` + "```" + `
---
name: DTO
bind: Class
match: "models/*.go"
output: "dto/{ClassName}DTO.g.go"
---
package dto

type {{.Name}}DTO struct {
{{- range .Class.Properties}}
	{{.Name}} {{.Type}} ` + "`" + `json:"{{snake .Name}}"` + "`" + `
{{- end}}
}
` + "```" + `
`
