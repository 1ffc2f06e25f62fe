package mcpserver

// ArtifactFormat describes the files written for published records. The
// static site generator reads them; LLM consumers use it to understand what
// publishing a record produces.
const ArtifactFormat = `# Quill Artifact Format

Every published record has one artifact file. Records live in the record
store; artifacts are derived from them and are never the source of truth.

## Location

- Notes: ` + "`" + `<content root>/notes/<slug>.mdx` + "`" + `
- Blog posts: ` + "`" + `<content root>/blog/<slug>.mdx` + "`" + `

The slug is derived from the title the first time a record is published
(lowercase, punctuation removed, whitespace collapsed to single hyphens) and
never changes afterwards, even when the title does.

## Structure

` + "```" + `markdown
---
title: Hello World
date: "2026-10-01"
description: A short summary
author: Jane
image: /images/cover-1a2b3c4d.png
tags:
  - go
  - release
published: true
---

Body in MDX, verbatim from the record content.
` + "```" + `

## Rules

1. Header keys appear in this order: title, date, description, author, image,
   tags, published, unpublishedAt.
2. ` + "`" + `date` + "`" + ` is the record creation date (YYYY-MM-DD, UTC).
3. ` + "`" + `tags` + "`" + ` is always a list, possibly empty.
4. Unpublishing keeps the file. ` + "`" + `published` + "`" + ` becomes false and
   ` + "`" + `unpublishedAt` + "`" + ` (RFC 3339, UTC) is added. The body and any
   other header keys are left untouched.
5. Re-publishing regenerates the whole file from the record.
6. Deleting a record never deletes its artifact.
7. When artifact writes are deferred, files are brought in line by the
   build-time sweep (` + "`" + `quill sweep` + "`" + ` or the run_sweep tool).
`
