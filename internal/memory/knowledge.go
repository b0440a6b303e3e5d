package memory

// KnowledgeItem is a seed document for the knowledge base.
type KnowledgeItem struct {
	Content  string
	Category string
	Topic    string
}

// DefaultKnowledge describes the assistant and its lookups.
var DefaultKnowledge = []KnowledgeItem{
	{
		Content:  "O assistente pode consultar CEPs brasileiros usando a ferramenta ViaCEP. Basta fornecer um CEP de 8 dígitos e o sistema retornará informações completas sobre o endereço.",
		Category: "tools", Topic: "viacep",
	},
	{
		Content:  "O assistente possui acesso à PokéAPI para fornecer informações detalhadas sobre Pokémon. Você pode perguntar sobre qualquer Pokémon pelo nome ou número da Pokédex.",
		Category: "tools", Topic: "pokemon",
	},
	{
		Content:  "O assistente pode consultar dados geográficos do Brasil via IBGE. Pergunte sobre estados, municípios, regiões e códigos IBGE.",
		Category: "tools", Topic: "ibge",
	},
	{
		Content:  "O assistente pode consultar previsão do tempo e clima atual usando Open-Meteo. Pergunte sobre temperatura, clima e previsão para qualquer cidade do mundo.",
		Category: "tools", Topic: "clima",
	},
	{
		Content:  "O assistente pode consultar informações sobre séries de TV usando TVMaze. Pergunte sobre séries, episódios, atores e ratings.",
		Category: "tools", Topic: "series",
	},
	{
		Content:  "O assistente pode consultar informações sobre livros usando Open Library. Pergunte sobre livros, autores, ISBN e sinopses.",
		Category: "tools", Topic: "livros",
	},
	{
		Content:  "O assistente pode buscar letras de músicas usando Lyrics.ovh. Pergunte sobre letras fornecendo o nome da música e do artista.",
		Category: "tools", Topic: "letras",
	},
	{
		Content:  "O agente usa chamadas de ferramenta nativas do modelo de linguagem para decidir automaticamente quando consultar serviços externos.",
		Category: "system", Topic: "capabilities",
	},
	{
		Content:  "O sistema possui um mecanismo de feedback que melhora continuamente as respostas do assistente. Feedbacks são analisados automaticamente e incorporados a uma nova versão do prompt do agente.",
		Category: "system", Topic: "feedback",
	},
}
