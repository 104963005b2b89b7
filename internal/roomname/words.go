package roomname

// lists are the pools a room name draws its words from, one word per pool.
var lists = [][]string{
	{ // animals
		"kitten", "puppy", "bunny", "panda", "koala", "fox", "otter", "hedgehog", "squirrel", "hamster",
		"chick", "duckling", "fawn", "foal", "lamb", "calf", "porcupine", "raccoon", "beaver", "mole",
		"seahorse", "starfish", "dolphin", "whale", "narwhal", "penguin", "flamingo", "pelican", "robin", "toucan",
	},
	{ // dishes
		"pancake", "waffle", "sushi", "ramen", "curry", "taco", "burrito", "biryani", "paella", "risotto",
		"lasagna", "pizza", "dumpling", "noodle", "omelette", "quiche", "kebab", "fondue", "pierogi", "gnocchi",
		"falafel", "samosa", "poutine", "dimsum", "satay", "rendang", "martabak", "bakso", "soto", "gudeg",
	},
	{ // things
		"sunbeam", "stardust", "pepper", "muffin", "bubble", "sprout", "glimmer", "whisker", "echo", "jelly",
		"marble", "maple", "cocoa", "hazel", "breeze", "meadow", "willow", "ember", "cinnamon", "poppy",
		"pixel", "biscuit", "cupcake", "nugget", "toffee", "sprinkle", "twig", "lantern", "pebble", "comet",
	},
	{ // adjectives
		"tiny", "happy", "sleepy", "fluffy", "sparkly", "cheery", "silly", "jolly", "cozy", "shiny",
		"golden", "silver", "crimson", "emerald", "purple", "bright", "gentle", "brave", "calm", "swift",
		"silent", "bouncy", "fuzzy", "plucky", "merry", "peppy", "lucky", "quiet", "sunny", "witty",
	},
	{ // places
		"canyon", "ridge", "harbor", "island", "valley", "summit", "lagoon", "fjord", "orchard", "grove",
		"cottage", "lighthouse", "garden", "bridge", "market", "station", "library", "studio", "attic", "porch",
		"orbit", "nebula", "galaxy", "reef", "dune", "glacier", "prairie", "delta", "bay", "cove",
	},
	{ // creatures
		"dragon", "unicorn", "griffin", "phoenix", "fairy", "gnome", "sprite", "pixie", "mermaid", "elf",
		"hobbit", "yeti", "kraken", "golem", "wizard", "knight", "pirate", "ninja", "robot", "rocket",
	},
}
