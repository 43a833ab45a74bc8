package mcpserver

const recordFormatURI = "salesboard://record-format"

// RecordFormat describes the fields of an opportunity and a meeting entry
// for LLM clients that create or update records.
const RecordFormat = `# Salesboard Record Format

An opportunity is one client in the sales pipeline. Meetings that follow the
first one are appended to its history; the first meeting lives on the
opportunity itself.

## Opportunity

| field | required | rules |
|---|---|---|
| client | yes | client company name |
| date | yes | first meeting date, ` + "`YYYY-MM-DD`" + ` |
| assignee | yes | sales person in charge, free text |
| summary | no | meeting summary |
| action_items | no | list of follow-up tasks; blank entries are dropped |
| stage | no | a stage id from ` + "`list_stages`" + `; defaults to ` + "`lead`" + ` |
| estimated_value | no | expected deal size in KRW; a missing or zero value counts as 50,000,000 in totals |
| priority | no | ` + "`high`" + `, ` + "`medium`" + ` or ` + "`low`" + ` |
| next_meeting_date | no | ` + "`YYYY-MM-DD`" + ` |

The built-in stages, in board order: ` + "`lead`" + ` (리드발굴), ` + "`consultation`" + ` (상담진행),
` + "`proposal`" + ` (제안요청), ` + "`contract`" + ` (계약진행), ` + "`completed`" + ` (완료/보류).
User-defined stages have ids starting with ` + "`custom_`" + `.

## Meeting

| field | required | rules |
|---|---|---|
| date | yes | ` + "`YYYY-MM-DD`" + ` |
| summary | yes | what was discussed |
| type | no | ` + "`initial`" + `, ` + "`follow-up`" + ` (default), ` + "`proposal`" + `, ` + "`negotiation`" + `, ` + "`closing`" + ` |
| outcome | no | ` + "`positive`" + `, ` + "`neutral`" + ` (default), ` + "`negative`" + ` |
| attendees, action_items, next_steps | no | lists of strings |

Meetings cannot be edited or removed once added.

## Language

Field names are English. Values, including summaries and action items, are
usually Korean and may use any language.
`
