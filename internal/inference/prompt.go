package inference

// extractionInstruction is sent as the system message of every extraction request.
const extractionInstruction = `You turn a snapshot of a chat conversation into long-term memories.
Read the conversation text (and the screenshot when one is attached) and extract the durable facts
worth remembering about people, projects, tools, places and decisions. Ignore UI chrome, timestamps
and greetings.

Answer with JSON only, no prose, using exactly this shape:
{"memories":[{"statement":"one self-contained factual sentence",
              "entities":[{"name":"Alice","kind":"person","fact":"what this statement says about Alice"}],
              "relations":[{"source":"Alice","target":"Bob","relation":"discussed_with"}]}]}

Rules:
- Each statement must make sense on its own, naming the entities it talks about.
- kind is one of person, organization, project, tool, topic, place, event, other.
- relation is a short snake_case verb phrase from source to target.
- Return {"memories":[]} when there is nothing worth remembering.`

// summaryInstruction is the default system message for Complete callers that do not provide one.
const summaryInstruction = `You write concise, factual summaries of what a user learned and discussed.
Answer with plain text only.`
